package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/xeipuuv/gojsonschema"
)

// Store persists the full article list.
type Store interface {
	Load() ([]Article, error)
	Save(articles []Article) error
}

// articlesSchema guards the on-disk articles file. The file is hand-editable,
// so structural mistakes are caught at load time with a pointed message
// instead of surfacing later as empty challenges.
const articlesSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["slug", "title", "price", "authorAddress"],
    "properties": {
      "slug":              {"type": "string", "minLength": 1},
      "title":             {"type": "string", "minLength": 1},
      "teaser":            {"type": "string"},
      "body":              {"type": "string"},
      "imageUrl":          {"type": "string"},
      "price":             {"type": "string", "pattern": "^\\$?[0-9]*\\.?[0-9]+$"},
      "authorAddress":     {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
      "authorUsername":    {"type": "string"},
      "authorDisplayName": {"type": "string"},
      "authorAvatarUrl":   {"type": "string"},
      "publishedAt":       {"type": "string"}
    }
  }
}`

// FileStore stores articles as a single JSON array on disk.
type FileStore struct {
	path string
}

// NewFileStore creates a file store at the given path. A missing file loads
// as an empty catalog.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads, schema-validates and decodes the articles file.
func (s *FileStore) Load() ([]Article, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Article{}, nil
		}
		return nil, errors.Wrapf(err, "read articles file %s", s.path)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(articlesSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "validate articles file %s", s.path)
	}
	if !result.Valid() {
		err := errors.Newf("articles file %s is malformed", s.path)
		for _, desc := range result.Errors() {
			err = errors.WithDetail(err, desc.String())
		}
		return nil, err
	}

	var articles []Article
	if err := json.Unmarshal(data, &articles); err != nil {
		return nil, errors.Wrapf(err, "decode articles file %s", s.path)
	}
	for _, a := range articles {
		if err := a.Validate(); err != nil {
			return nil, errors.Wrapf(err, "articles file %s", s.path)
		}
	}
	return articles, nil
}

// Save writes the article list atomically: temp file in the same directory,
// then rename.
func (s *FileStore) Save(articles []Article) error {
	data, err := json.MarshalIndent(articles, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode articles")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create articles dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".articles-*.json")
	if err != nil {
		return errors.Wrap(err, "create temp articles file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write temp articles file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp articles file")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errors.Wrapf(err, "replace articles file %s", s.path)
	}
	return nil
}
