package particle

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"sort"
)

// multipartBody builds an upload with one part per file. The first file is
// sent as "file", later ones as "file1", "file2" and so on.
func multipartBody(files []string, fields map[string]string) (io.Reader, string, error) {
	if len(files) == 0 {
		return nil, "", fmt.Errorf("at least one file is required")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := w.WriteField(key, fields[key]); err != nil {
			return nil, "", err
		}
	}

	for i, path := range files {
		field := "file"
		if i > 0 {
			field = fmt.Sprintf("file%d", i)
		}
		if err := addFile(w, field, path); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func addFile(w *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	part, err := w.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}
