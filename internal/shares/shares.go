// Package shares maintains the index of files this daemon offers for
// upload: the configured share directories are scanned into a bolt bucket
// so upload admission can resolve a requested filename to a local path
// without touching the filesystem.
package shares

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/auriora/wirefly/pkg/errors"
	"github.com/auriora/wirefly/pkg/logging"
)

var bucketShares = []byte("shares")

// SharedFile is one indexed file.
type SharedFile struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
}

// Index is the durable share index.
type Index struct {
	db *bolt.DB
}

// Open opens (creating if needed) the index database at path.
func Open(path string) (*Index, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "opening share index")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketShares)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "initializing share index")
	}
	return &Index{db: db}, nil
}

// Close closes the underlying database.
func (i *Index) Close() error { return i.db.Close() }

// Scan walks the share directories and rebuilds the index in one
// transaction. Files that disappeared since the last scan drop out.
func (i *Index) Scan(dirs []string) (int, error) {
	files := make(map[string]SharedFile)
	for _, dir := range dirs {
		err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				logging.Warn().Err(err).Str("path", path).Msg("Skipping unreadable share entry")
				return nil
			}
			if info.IsDir() {
				return nil
			}
			name := normalize(filepath.Base(path))
			files[name] = SharedFile{
				Filename: filepath.Base(path),
				Path:     path,
				Size:     info.Size(),
			}
			return nil
		})
		if err != nil {
			return 0, errors.Wrap(err, "scanning share directory "+dir)
		}
	}

	err := i.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketShares); err != nil {
			return err
		}
		b, err := tx.CreateBucket(bucketShares)
		if err != nil {
			return err
		}
		for key, file := range files {
			data, err := json.Marshal(file)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "rebuilding share index")
	}

	logging.Info().Int("files", len(files)).Int("directories", len(dirs)).Msg("Share scan complete")
	return len(files), nil
}

// Resolve looks a requested filename up in the index.
func (i *Index) Resolve(filename string) (SharedFile, bool) {
	var file SharedFile
	found := false
	_ = i.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketShares).Get([]byte(normalize(filepath.Base(filename))))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &file); err != nil {
			logging.Error().Err(err).Str("filename", filename).Msg("Corrupt share index entry")
			return nil
		}
		found = true
		return nil
	})
	return file, found
}

// List returns every indexed file.
func (i *Index) List() ([]SharedFile, error) {
	var out []SharedFile
	err := i.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketShares).ForEach(func(_, data []byte) error {
			var file SharedFile
			if err := json.Unmarshal(data, &file); err != nil {
				return err
			}
			out = append(out, file)
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "listing share index")
	}
	return out, nil
}

func normalize(name string) string {
	return strings.ToLower(name)
}
