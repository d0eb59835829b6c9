// Package gallery builds the reference identity gallery from a directory of
// images, one identity per file.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/text/unicode/norm"

	"github.com/andresmejia3/facewatch/internal/imageio"
	"github.com/andresmejia3/facewatch/internal/logger"
	"github.com/andresmejia3/facewatch/internal/recognition"
	"github.com/andresmejia3/facewatch/internal/types"
	"github.com/andresmejia3/facewatch/internal/utils"
)

var (
	// ErrNoReferences means the directory held no usable reference image.
	ErrNoReferences = errors.New("no reference images found")
	// ErrNoFace is recorded for a reference image with zero detected faces.
	ErrNoFace = errors.New("no face detected")
)

// Failure is one reference file that could not produce an embedding.
type Failure struct {
	File string
	Err  error
}

// BuildError lists every reference file that failed.
type BuildError struct {
	Dir      string
	Scanned  int
	Failures []Failure
}

func (e *BuildError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d reference images in %s failed", len(e.Failures), e.Scanned, e.Dir)
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "\n  %s: %v", f.File, f.Err)
	}
	return b.String()
}

func (e *BuildError) Unwrap() []error {
	out := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Err
	}
	return out
}

// Cache stores reference embeddings by recognizer fingerprint and file
// content digest. Embeddings from different recognizers never mix.
type Cache interface {
	Lookup(ctx context.Context, recognizer, digest string) (types.Embedding, bool, error)
	Save(ctx context.Context, recognizer, digest, name string, emb types.Embedding) error
}

// Builder turns a reference directory into a Gallery.
type Builder struct {
	rec recognition.Recognizer

	// Cache is consulted before running the recognizer. Optional.
	Cache Cache
	// Fingerprint identifies the recognizer configuration in cache keys.
	Fingerprint string
	// Progress receives a progress bar. Nil disables it.
	Progress io.Writer
	Chip     int
}

func NewBuilder(rec recognition.Recognizer) *Builder {
	return &Builder{rec: rec, Chip: recognition.DefaultChip}
}

// Build scans dir in filename order. Every file is attempted; if any fails,
// the result is a *BuildError naming all of them. An unavailable recognizer
// aborts the scan immediately.
func (b *Builder) Build(ctx context.Context, dir string) (*Gallery, error) {
	files, err := ListReferences(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoReferences, dir)
	}

	out := io.Discard
	if b.Progress != nil {
		out = b.Progress
	}
	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("🖼️  Building gallery"),
		progressbar.OptionSetWriter(out),
		progressbar.OptionShowCount(),
	)

	entries := make(map[string]Entry, len(files))
	var failures []Failure
	cached := 0

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entry, err := b.embed(ctx, path)
		bar.Add(1)
		if err != nil {
			if errors.Is(err, recognition.ErrUnavailable) {
				return nil, err
			}
			logger.Warn(logger.Fields{"file": path, "error": err.Error()}, "[gallery.Build] reference image rejected")
			failures = append(failures, Failure{File: filepath.Base(path), Err: err})
			continue
		}

		if prev, ok := entries[entry.Name]; ok {
			logger.Warn(logger.Fields{"name": entry.Name, "replaced": prev.File, "by": entry.File}, "[gallery.Build] duplicate identity name")
		}
		entries[entry.Name] = entry
		if entry.Cached {
			cached++
		}
	}
	bar.Finish()
	if b.Progress != nil {
		fmt.Fprintln(b.Progress)
	}

	if len(failures) > 0 {
		return nil, &BuildError{Dir: dir, Scanned: len(files), Failures: failures}
	}

	logger.Info(logger.Fields{"dir": dir, "identities": len(entries), "cached": cached}, "[gallery.Build] gallery ready")
	return newGallery(entries), nil
}

// ListReferences returns the regular, non-hidden files in dir sorted by name.
func ListReferences(dir string) ([]string, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot read reference directory: %w", err)
	}
	var files []string
	for _, de := range des {
		if strings.HasPrefix(de.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, de.Name())
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, path)
	}
	return files, nil
}

// IdentityName is the gallery key for a reference file.
func IdentityName(path string) string {
	return norm.NFC.String(filepath.Base(path))
}

func (b *Builder) embed(ctx context.Context, path string) (Entry, error) {
	entry := Entry{Name: IdentityName(path), File: path}

	if b.Cache != nil {
		digest, err := utils.FileDigest(path)
		if err != nil {
			return entry, err
		}
		entry.Digest = digest

		emb, ok, err := b.Cache.Lookup(ctx, b.Fingerprint, digest)
		if err != nil {
			logger.Warn(logger.Fields{"file": path, "error": err.Error()}, "[gallery.embed] cache lookup failed")
		} else if ok && emb.Chip == b.Chip {
			entry.Embedding = emb
			entry.Cached = true
			return entry, nil
		}
	}

	frame, err := imageio.DecodeFile(path)
	if err != nil {
		return entry, err
	}
	emb, err := Embed(b.rec, frame, b.Chip)
	if err != nil {
		return entry, err
	}
	entry.Embedding = emb

	if b.Cache != nil {
		if err := b.Cache.Save(ctx, b.Fingerprint, entry.Digest, entry.Name, emb); err != nil {
			logger.Warn(logger.Fields{"file": path, "error": err.Error()}, "[gallery.embed] cache save failed")
		}
	}
	return entry, nil
}

// Embed runs the recognizer on one image and returns the embedding of face 0.
func Embed(rec recognition.Recognizer, frame types.Frame, chip int) (types.Embedding, error) {
	img, err := rec.Prepare(recognition.ViewOf(frame))
	if err != nil {
		return types.Embedding{}, err
	}
	defer img.Close()

	regions, err := rec.LocateFaces(img)
	if err != nil {
		return types.Embedding{}, err
	}
	if len(regions) == 0 {
		return types.Embedding{}, ErrNoFace
	}

	lm, err := rec.ExtractLandmarks(img, regions[0])
	if err != nil {
		return types.Embedding{}, err
	}
	embs, err := rec.ExtractEmbeddings(img, []types.Landmarks{lm}, chip)
	if err != nil {
		return types.Embedding{}, err
	}
	if len(embs) != 1 {
		return types.Embedding{}, fmt.Errorf("expected one embedding, got %d", len(embs))
	}
	return embs[0], nil
}
