package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"google.golang.org/api/option"

	"paperflow/internal/fileutil"
	"paperflow/internal/logging"
	"paperflow/internal/services"
)

// Kind classifies a document reference.
type Kind string

const (
	KindLocal Kind = "local"
	KindURL   Kind = "url"
	KindGCS   Kind = "gcs"
)

// LocalCopyName is the file name used when a document is staged into a task
// directory.
const LocalCopyName = "paper.pdf"

// Document is a resolved document reference ready for submission.
type Document struct {
	Ref   string
	Kind  Kind
	URL   string
	Path  string
	Name  string
	Pages int
}

// Clean strips whitespace and surrounding quotes from a user supplied
// reference.
func Clean(ref string) string {
	ref = strings.TrimSpace(ref)
	ref = strings.Trim(ref, `"'`)
	return strings.TrimSpace(ref)
}

// Classify reports how ref will be fetched.
func Classify(ref string) Kind {
	ref = Clean(ref)
	lower := strings.ToLower(ref)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return KindURL
	case strings.HasPrefix(lower, "gs://"):
		return KindGCS
	default:
		return KindLocal
	}
}

// Hint derives a task id hint from a reference: the file stem for local and
// bucket objects, "url" for web references.
func Hint(ref string) string {
	ref = Clean(ref)
	switch Classify(ref) {
	case KindURL:
		return "url"
	case KindGCS:
		_, object, err := splitGCS(ref)
		if err != nil {
			return "gcs"
		}
		base := path.Base(object)
		return strings.TrimSuffix(base, path.Ext(base))
	default:
		base := filepath.Base(ref)
		return strings.TrimSuffix(base, filepath.Ext(base))
	}
}

// ObjectOpener reads bucket objects.
type ObjectOpener interface {
	Open(ctx context.Context, bucket, object string) (io.ReadCloser, error)
}

// Resolver turns references into Documents.
type Resolver struct {
	logger          *slog.Logger
	credentialsFile string

	mu     sync.Mutex
	opener ObjectOpener
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithObjectOpener overrides the bucket client (tests).
func WithObjectOpener(opener ObjectOpener) Option {
	return func(r *Resolver) { r.opener = opener }
}

// WithCredentialsFile selects a service account file for gs:// sources.
func WithCredentialsFile(path string) Option {
	return func(r *Resolver) { r.credentialsFile = strings.TrimSpace(path) }
}

// NewResolver constructs a Resolver.
func NewResolver(logger *slog.Logger, opts ...Option) *Resolver {
	r := &Resolver{logger: logging.NewComponentLogger(logger, "source")}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve validates ref. Local files are used in place; gs:// objects are
// downloaded into taskDir. PDF page counts are recorded when readable.
func (r *Resolver) Resolve(ctx context.Context, ref, taskDir string) (Document, error) {
	ref = Clean(ref)
	if ref == "" {
		return Document{}, services.Wrap(services.ErrValidation, "source", "resolve", "Document reference is empty", nil)
	}
	doc := Document{Ref: ref, Kind: Classify(ref)}
	switch doc.Kind {
	case KindURL:
		parsed, err := url.Parse(ref)
		if err != nil || parsed.Host == "" {
			return Document{}, services.Wrap(services.ErrValidation, "source", "resolve", "Invalid document URL", err)
		}
		doc.URL = ref
		doc.Name = path.Base(parsed.Path)
		if doc.Name == "." || doc.Name == "/" || doc.Name == "" {
			doc.Name = "result.pdf"
		}
		return doc, nil
	case KindGCS:
		dst := filepath.Join(taskDir, LocalCopyName)
		if err := r.download(ctx, ref, dst); err != nil {
			return Document{}, err
		}
		_, object, _ := splitGCS(ref)
		doc.Path = dst
		doc.Name = path.Base(object)
	default:
		info, err := os.Stat(ref)
		if err != nil {
			return Document{}, services.Wrap(services.ErrNotFound, "source", "resolve", "File not found: "+ref, err)
		}
		if !info.Mode().IsRegular() {
			return Document{}, services.Wrap(services.ErrValidation, "source", "resolve", "Not a regular file: "+ref, nil)
		}
		doc.Path = ref
		doc.Name = filepath.Base(ref)
	}
	doc.Pages = r.pageCount(doc.Path)
	return doc, nil
}

// Stage copies a local document into taskDir as paper.pdf and returns the
// staged path.
func Stage(srcPath, taskDir string) (string, error) {
	dst := filepath.Join(taskDir, LocalCopyName)
	if err := fileutil.CopyFile(srcPath, dst); err != nil {
		return "", services.Wrap(services.ErrValidation, "source", "stage", "Copy document into task", err)
	}
	return dst, nil
}

func (r *Resolver) pageCount(file string) int {
	if !strings.EqualFold(filepath.Ext(file), ".pdf") {
		return 0
	}
	pages, err := api.PageCountFile(file)
	if err != nil {
		r.logger.Debug("pdf page count unavailable",
			logging.String("path", file),
			logging.Error(err),
		)
		return 0
	}
	return pages
}

func (r *Resolver) download(ctx context.Context, ref, dst string) error {
	bucket, object, err := splitGCS(ref)
	if err != nil {
		return services.Wrap(services.ErrValidation, "source", "download", "Invalid gs:// reference", err)
	}
	opener, err := r.objectOpener(ctx)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "source", "download", "Create storage client", err)
	}
	reader, err := opener.Open(ctx, bucket, object)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return services.Wrap(services.ErrNotFound, "source", "download", "Object not found: "+ref, err)
		}
		return services.Wrap(services.ErrExternalTool, "source", "download", "Open object "+ref, err)
	}
	defer reader.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "source", "download", "Create task directory", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "source", "download", "Create local copy", err)
	}
	if _, err := io.Copy(out, reader); err != nil {
		out.Close()
		return services.Wrap(services.ErrExternalTool, "source", "download", "Read object "+ref, err)
	}
	if err := out.Close(); err != nil {
		return services.Wrap(services.ErrConfiguration, "source", "download", "Finalize local copy", err)
	}
	r.logger.Info("downloaded bucket object",
		logging.String("bucket", bucket),
		logging.String("object", object),
		logging.String("path", dst),
	)
	return nil
}

func (r *Resolver) objectOpener(ctx context.Context) (ObjectOpener, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.opener != nil {
		return r.opener, nil
	}
	var opts []option.ClientOption
	if r.credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(r.credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	r.opener = gcsOpener{client: client}
	return r.opener, nil
}

type gcsOpener struct {
	client *storage.Client
}

func (g gcsOpener) Open(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	return g.client.Bucket(bucket).Object(object).NewReader(ctx)
}

func splitGCS(ref string) (string, string, error) {
	rest := ref[len("gs://"):]
	bucket, object, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || strings.Trim(object, "/") == "" {
		return "", "", fmt.Errorf("expected gs://bucket/object, got %q", ref)
	}
	return bucket, object, nil
}
