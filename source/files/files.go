package files

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/root-talis/cassmig/migration"
	"github.com/root-talis/cassmig/source"
)

const (
	DefaultPrefix    = "V"
	DefaultSeparator = "__"
	DefaultSuffix    = ".cql"

	// LocationPrefix marks a location on the local filesystem.
	LocationPrefix = "filesystem:"
)

var (
	ErrMigrationsDirectoryIsNotADirectory = errors.New("migrations directory is not a directory")
	ErrInvalidFileName                    = errors.New("migration file name is invalid")
)

type Option func(*Source)

func WithPrefix(prefix string) Option {
	return func(s *Source) { s.prefix = prefix }
}

func WithSeparator(separator string) Option {
	return func(s *Source) { s.separator = separator }
}

func WithSuffix(suffix string) Option {
	return func(s *Source) { s.suffix = suffix }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) { s.logger = logger }
}

// Source lists CQL scripts named like V1_0_0__Create_users.cql in one
// directory of a file system. Subdirectories are not scanned.
type Source struct {
	fsys      fs.FS
	dir       string
	prefix    string
	separator string
	suffix    string
	logger    *slog.Logger
}

var (
	_ source.Source = (*Source)(nil)
	_ source.Reader = (*Source)(nil)
)

// ---

func NewFilesSource(fsys fs.FS, directory string, opts ...Option) (*Source, error) {
	stat, err := fs.Stat(fsys, directory)
	if err != nil {
		return nil, fmt.Errorf("failed to stat migrations directory: %w", err)
	}

	if !stat.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrMigrationsDirectoryIsNotADirectory, directory)
	}

	src := &Source{
		fsys:      fsys,
		dir:       directory,
		prefix:    DefaultPrefix,
		separator: DefaultSeparator,
		suffix:    DefaultSuffix,
	}
	for _, opt := range opts {
		opt(src)
	}
	if src.logger == nil {
		src.logger = slog.Default()
	}

	return src, nil
}

// Open creates a source for a location on the local file system, either a
// bare path or one prefixed with "filesystem:".
func Open(location string, opts ...Option) (*Source, error) {
	dir := strings.TrimPrefix(location, LocationPrefix)
	if dir == "" {
		dir = "."
	}
	return NewFilesSource(os.DirFS(dir), ".", opts...)
}

func (src *Source) String() string {
	return src.dir
}

// ---

func (src *Source) GetAvailableMigrations(ctx context.Context) ([]migration.Descriptor, error) {
	dirEntries, err := fs.ReadDir(src.fsys, src.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read contents of migrations directory: %w", err)
	}

	byVersion := make(map[string]migration.Descriptor, len(dirEntries))
	for _, entry := range dirEntries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if entry.IsDir() || !entry.Type().IsRegular() {
			continue
		}

		fileName := entry.Name()
		if !strings.HasPrefix(fileName, src.prefix) || !strings.HasSuffix(fileName, src.suffix) {
			continue
		}

		descr, err := src.descriptorFromFileName(fileName)
		if err != nil {
			src.logger.Warn("skipping migration file", "dir", src.dir, "file", fileName, "error", err)
			continue
		}

		if existing, ok := byVersion[descr.Version.Key()]; ok {
			return nil, &source.DuplicateVersionError{
				Version: descr.Version,
				First:   existing.Script,
				Second:  descr.Script,
			}
		}

		descr.Checksum, err = src.checksum(descr.Locator)
		if err != nil {
			return nil, err
		}

		byVersion[descr.Version.Key()] = descr
	}

	result := make([]migration.Descriptor, 0, len(byVersion))
	for _, descr := range byVersion {
		result = append(result, descr)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Version.Less(result[j].Version)
	})

	return result, nil
}

func (src *Source) ReadMigration(_ context.Context, descr migration.Descriptor) (io.ReadCloser, error) {
	file, err := src.fsys.Open(descr.Locator)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", source.ErrMigrationNotFound, descr.Locator)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open migration %s: %w", descr.Locator, err)
	}
	return file, nil
}

// ---

func (src *Source) descriptorFromFileName(fileName string) (migration.Descriptor, error) {
	name := strings.TrimSuffix(strings.TrimPrefix(fileName, src.prefix), src.suffix)

	versionPart, descriptionPart, found := strings.Cut(name, src.separator)
	if !found {
		return migration.Descriptor{}, fmt.Errorf("%w: missing %q between version and description", ErrInvalidFileName, src.separator)
	}

	description := strings.TrimSpace(strings.ReplaceAll(descriptionPart, "_", " "))
	if description == "" {
		return migration.Descriptor{}, fmt.Errorf("%w: empty description", ErrInvalidFileName)
	}

	version, err := migration.ParseVersion(strings.ReplaceAll(versionPart, "_", "."))
	if err != nil {
		return migration.Descriptor{}, err
	}

	return migration.Descriptor{
		Version:     version,
		Description: description,
		Type:        migration.TypeCQL,
		Script:      fileName,
		Locator:     path.Join(src.dir, fileName),
	}, nil
}

func (src *Source) checksum(locator string) (int32, error) {
	file, err := src.fsys.Open(locator)
	if err != nil {
		return 0, fmt.Errorf("failed to open migration %s: %w", locator, err)
	}
	defer file.Close()

	sum, err := Checksum(file)
	if err != nil {
		return 0, fmt.Errorf("failed to compute checksum of %s: %w", locator, err)
	}
	return sum, nil
}

// Checksum is a CRC32 over the lines of a script without their terminators,
// so the same script checked out with LF or CRLF endings has one checksum.
func Checksum(r io.Reader) (int32, error) {
	const maxLine = 1 << 20

	hash := crc32.NewIEEE()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if first {
			line = trimBOM(line)
			first = false
		}
		_, _ = hash.Write(line)
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}

	return int32(hash.Sum32()), nil //nolint:gosec // stored as a signed cql int
}

func trimBOM(line []byte) []byte {
	const bom = "\xef\xbb\xbf"
	if strings.HasPrefix(string(line), bom) {
		return line[len(bom):]
	}
	return line
}
