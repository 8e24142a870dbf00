package episode

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Record describes a saved episode file.
type Record struct {
	ID          string
	Path        string
	Format      Format
	Seed        *int64
	Steps       int
	TotalReward float64
	Profit      float64
	Digest      string
	CreatedAt   time.Time
}

// Store saves and loads episode files under Dir.
type Store struct {
	Dir      string
	Compress bool
}

// DefaultName returns episode_YYYYMMDD_HHMMSS for t.
func DefaultName(t time.Time) string {
	return "episode_" + t.Format("20060102_150405")
}

// Save writes ep as Dir/<filename>.<format>, with a .zst suffix when the
// store compresses. An empty filename uses DefaultName. The file appears
// atomically.
func (s Store) Save(ep *Episode, format Format, filename string) (Record, error) {
	if ep == nil {
		return Record{}, errors.New("save episode: nil episode")
	}
	data, err := Marshal(ep, format)
	if err != nil {
		return Record{}, err
	}
	digest := Digest(data)

	now := time.Now()
	if filename == "" {
		filename = DefaultName(now)
	}
	path := filepath.Join(s.Dir, filename+"."+string(format))
	if s.Compress {
		data = compress(data)
		path += CompressedSuffix
	}

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return Record{}, fmt.Errorf("save episode: %w", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return Record{}, fmt.Errorf("save episode %s: %w", path, err)
	}

	rec := Record{
		ID:          ep.ID,
		Path:        path,
		Format:      format,
		Seed:        ep.Seed,
		Steps:       ep.Steps(),
		TotalReward: ep.TotalReward(),
		Digest:      digest,
		CreatedAt:   now.UTC(),
	}
	if ep.FinalState != nil {
		rec.TotalReward = ep.FinalState.TotalReward
		rec.Profit = ep.FinalState.Profit
	}
	return rec, nil
}

// Load reads an episode file. A .zst suffix is decompressed first. A file
// whose extension names another format is rejected before decoding.
func (s Store) Load(path string, format Format) (*Episode, error) {
	if _, err := ParseFormat(string(format)); err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(path, CompressedSuffix)
	if ext := strings.TrimPrefix(filepath.Ext(base), "."); ext != "" {
		if other, err := ParseFormat(ext); err == nil && other != format {
			return nil, fmt.Errorf("load episode %s: file is %s, not %s", path, other, format)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load episode: %w", err)
	}
	if strings.HasSuffix(path, CompressedSuffix) {
		if data, err = decompress(data); err != nil {
			return nil, fmt.Errorf("load episode %s: %w", path, err)
		}
	}

	ep, err := Unmarshal(data, format)
	if err != nil {
		return nil, fmt.Errorf("load episode %s: %w", path, err)
	}
	return ep, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".episode-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
