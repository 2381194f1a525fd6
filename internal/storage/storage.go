// Package storage keeps uploaded inputs in a scoped temporary directory and
// publishes result artifacts into the public results directory.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/text/unicode/norm"
)

var ErrEmptyArtifact = errors.New("empty result artifact")

// Uploads stores the two input images of a task until the gateway has consumed them.
type Uploads struct {
	fs  afero.Fs
	dir string
}

// NewUploads creates the upload directory if needed.
func NewUploads(fsys afero.Fs, dir string) (*Uploads, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir %s: %w", dir, err)
	}
	return &Uploads{fs: fsys, dir: dir}, nil
}

// Save writes r under a name scoped to the task and role so concurrent uploads
// with identical client file names never collide. It returns the stored path.
func (u *Uploads) Save(taskID uuid.UUID, role, filename string, r io.Reader) (string, error) {
	name := SanitizeFilename(filename)
	if name == "" {
		name = "image"
	}
	p := filepath.Join(u.dir, fmt.Sprintf("%s_%s_%s", taskID, role, name))
	if err := afero.WriteReader(u.fs, p, r); err != nil {
		return "", fmt.Errorf("save upload %s: %w", p, err)
	}
	return p, nil
}

func (u *Uploads) Read(p string) ([]byte, error) {
	return afero.ReadFile(u.fs, p)
}

func (u *Uploads) Exists(p string) bool {
	ok, err := afero.Exists(u.fs, p)
	return err == nil && ok
}

// Remove deletes every path, ignoring ones already gone, and joins the rest of the errors.
func (u *Uploads) Remove(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := u.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Results is the public directory result artifacts are published into.
type Results struct {
	fs        afero.Fs
	dir       string
	urlPrefix string
}

// NewResults creates the result directory if needed. urlPrefix is the path the
// directory is served under, e.g. "/static/results".
func NewResults(fsys afero.Fs, dir, urlPrefix string) (*Results, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create result dir %s: %w", dir, err)
	}
	return &Results{fs: fsys, dir: dir, urlPrefix: strings.TrimRight(urlPrefix, "/")}, nil
}

// Publish writes the artifact as <taskID><ext>, with the extension sniffed from
// the content, and returns the URL path it is served at. The file is written
// under a temporary name and renamed so readers never see a partial artifact.
func (r *Results) Publish(taskID uuid.UUID, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyArtifact
	}
	ext := mimetype.Detect(data).Extension()
	if ext == "" {
		ext = ".bin"
	}
	name := taskID.String() + ext
	final := filepath.Join(r.dir, name)
	tmp := final + ".part"

	if err := afero.WriteReader(r.fs, tmp, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := r.fs.Rename(tmp, final); err != nil {
		_ = r.fs.Remove(tmp)
		return "", fmt.Errorf("move artifact into %s: %w", r.dir, err)
	}
	return r.URL(name), nil
}

// URL returns the public path of a published file name.
func (r *Results) URL(name string) string {
	return path.Join(r.urlPrefix, name)
}

// Path maps a URL returned by Publish back to its file path.
func (r *Results) Path(url string) (string, bool) {
	name, ok := strings.CutPrefix(url, r.urlPrefix+"/")
	if !ok || name == "" || strings.ContainsAny(name, `/\`) {
		return "", false
	}
	return filepath.Join(r.dir, name), true
}

func (r *Results) Exists(url string) bool {
	p, ok := r.Path(url)
	if !ok {
		return false
	}
	ok, err := afero.Exists(r.fs, p)
	return err == nil && ok
}

// Handler serves the result directory. Mount it with the URL prefix stripped.
func (r *Results) Handler() http.Handler {
	return http.FileServer(afero.NewHttpFs(r.fs).Dir(r.dir))
}

// SanitizeFilename reduces a client supplied file name to a safe flat name:
// separators become underscores, unicode is folded to ASCII, anything outside
// [A-Za-z0-9_.-] is dropped and leading/trailing dots and underscores trimmed.
func SanitizeFilename(name string) string {
	name = norm.NFKD.String(name)
	name = strings.NewReplacer("/", " ", `\`, " ").Replace(name)
	name = strings.Join(strings.Fields(name), "_")

	var b strings.Builder
	for _, r := range name {
		if r > unicode.MaxASCII {
			continue
		}
		if r == '_' || r == '.' || r == '-' || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9') {
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "._")
}
