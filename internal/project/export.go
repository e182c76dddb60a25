package project

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ulikunitz/xz"
)

// ArchiveFormat selects the container Export writes its output into.
type ArchiveFormat int

const (
	FormatDir ArchiveFormat = iota
	FormatZip
	FormatTar
	FormatTarGZ
	FormatTarXZ
	FormatTarBZ2
)

// ErrArchiveUnsupported is returned for FormatTarBZ2: the standard
// library only ships a bzip2 reader, and nothing in this build's
// dependency set provides a bzip2 writer.
var ErrArchiveUnsupported = errors.New("tar.bz2 export is unsupported: no bzip2 writer is available")

// PathFunction maps a job's state point to a destination subpath
// (spec §4.8 "path function"). UseID and CompilePathFunction are the
// two constructors most callers need.
type PathFunction func(sp map[string]any) (string, error)

// UseID is the PathFunction equivalent of the source's path=False:
// every job lands in a subdirectory named after its id.
func UseID() PathFunction {
	return Hash
}

var pathTokenRe = regexp.MustCompile(`\{([a-zA-Z0-9_.]+)\}`)

const autoToken = "{{auto}}"

// CompilePathFunction compiles a pattern like "a/{a}/{{auto}}" against
// the full set of jobs being exported: "{key}" segments substitute
// the job's value for that dotted key; the literal segment
// "{{auto}}" expands, in sorted key order, every dotted key present
// in schema that was not explicitly referenced elsewhere in pattern,
// as alternating key/value path segments.
func CompilePathFunction(pattern string, schema map[string]map[string][]any) PathFunction {
	referenced := map[string]bool{}
	for _, m := range pathTokenRe.FindAllStringSubmatch(pattern, -1) {
		referenced[m[1]] = true
	}
	autoKeys := make([]string, 0)
	for key := range schema {
		if !referenced[key] {
			autoKeys = append(autoKeys, key)
		}
	}
	sort.Strings(autoKeys)

	segments := strings.Split(pattern, "/")
	return func(sp map[string]any) (string, error) {
		parts := make([]string, 0, len(segments)+len(autoKeys)*2)
		for _, seg := range segments {
			if seg == autoToken {
				for _, k := range autoKeys {
					v, ok := lookupDotted(sp, k)
					if !ok {
						continue
					}
					parts = append(parts, sanitizePathSegment(k), formatPathValue(v))
				}
				continue
			}
			expanded := pathTokenRe.ReplaceAllStringFunc(seg, func(tok string) string {
				key := tok[1 : len(tok)-1]
				v, ok := lookupDotted(sp, key)
				if !ok {
					return tok
				}
				return formatPathValue(v)
			})
			parts = append(parts, expanded)
		}
		return filepath.Join(parts...), nil
	}
}

func sanitizePathSegment(s string) string {
	return strings.ReplaceAll(s, string(filepath.Separator), "_")
}

func formatPathValue(v any) string {
	switch t := v.(type) {
	case string:
		return sanitizePathSegment(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return "null"
	default:
		return sanitizePathSegment(fmt.Sprintf("%v", t))
	}
}

// Export copies every job in ids into destination, laid out according
// to pathFn, optionally wrapped in an archive. For FormatDir,
// destination is a directory that is created if missing; otherwise
// it is the archive file path to create.
func (p *Project) Export(ids []string, destination string, format ArchiveFormat, pathFn PathFunction) error {
	if format == FormatTarBZ2 {
		return ErrArchiveUnsupported
	}
	if format == FormatDir {
		return p.exportToDir(ids, destination, pathFn)
	}
	return p.exportToArchive(ids, destination, format, pathFn)
}

func (p *Project) exportToDir(ids []string, destDir string, pathFn PathFunction) error {
	p.mu.Lock()
	cache := p.cache
	p.mu.Unlock()

	for _, id := range ids {
		sp := cache[id]
		subpath, err := pathFn(sp)
		if err != nil {
			return err
		}
		dst := filepath.Join(destDir, subpath)
		if err := copyDir(filepath.Join(p.workspaceDir, id), dst); err != nil {
			return err
		}
	}
	return nil
}

type archiveSink interface {
	WriteFile(relPath string, content []byte, mode os.FileMode) error
	Close() error
}

func (p *Project) exportToArchive(ids []string, archivePath string, format ArchiveFormat, pathFn PathFunction) error {
	f, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	sink, err := newArchiveSink(f, format)
	if err != nil {
		return err
	}

	p.mu.Lock()
	cache := p.cache
	p.mu.Unlock()

	for _, id := range ids {
		sp := cache[id]
		subpath, err := pathFn(sp)
		if err != nil {
			sink.Close()
			return err
		}
		if err := addDirToArchive(sink, filepath.Join(p.workspaceDir, id), subpath); err != nil {
			sink.Close()
			return err
		}
	}
	return sink.Close()
}

func newArchiveSink(w io.Writer, format ArchiveFormat) (archiveSink, error) {
	switch format {
	case FormatZip:
		return &zipSink{zw: zip.NewWriter(w)}, nil
	case FormatTar:
		return &tarSink{tw: tar.NewWriter(w)}, nil
	case FormatTarGZ:
		gz := gzip.NewWriter(w)
		return &tarSink{tw: tar.NewWriter(gz), closer: gz}, nil
	case FormatTarXZ:
		xw, err := xz.NewWriter(w)
		if err != nil {
			return nil, err
		}
		return &tarSink{tw: tar.NewWriter(xw), closer: xw}, nil
	default:
		return nil, fmt.Errorf("unsupported archive format %v", format)
	}
}

type zipSink struct{ zw *zip.Writer }

func (s *zipSink) WriteFile(relPath string, content []byte, mode os.FileMode) error {
	hdr := &zip.FileHeader{Name: filepath.ToSlash(relPath), Method: zip.Deflate}
	hdr.SetMode(mode)
	w, err := s.zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = w.Write(content)
	return err
}

func (s *zipSink) Close() error { return s.zw.Close() }

type tarSink struct {
	tw     *tar.Writer
	closer io.Closer
}

func (s *tarSink) WriteFile(relPath string, content []byte, mode os.FileMode) error {
	hdr := &tar.Header{
		Name: filepath.ToSlash(relPath),
		Mode: int64(mode.Perm()),
		Size: int64(len(content)),
	}
	if err := s.tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := s.tw.Write(content)
	return err
}

func (s *tarSink) Close() error {
	if err := s.tw.Close(); err != nil {
		return err
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func addDirToArchive(sink archiveSink, srcDir, destPrefix string) error {
	return filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return sink.WriteFile(filepath.Join(destPrefix, rel), content, info.Mode())
	})
}

func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return os.WriteFile(target, content, info.Mode())
	})
}

// ImportSelfDescribing imports every subdirectory of srcDir that
// directly contains a signac_statepoint.json into this project's
// workspace, the common case where the exported layout already
// embeds its own state point. Directory layouts produced by a pure
// PathFunction with no embedded SP file (path=False aside) are not
// recoverable without the caller supplying the subpath→SP mapping
// back explicitly — see ImportMapped.
func (p *Project) ImportSelfDescribing(srcDir string) ([]string, error) {
	var imported []string
	err := filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Base(path) != "signac_statepoint.json" {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		v, err := decodeNumberPreserving(raw)
		if err != nil {
			return err
		}
		sp, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("%s does not decode to a JSON object", path)
		}
		j, err := p.OpenJob(sp)
		if err != nil {
			return err
		}
		if _, err := j.Init(false); err != nil {
			return err
		}
		if err := copyDir(filepath.Dir(path), j.Path()); err != nil {
			return err
		}
		imported = append(imported, j.ID())
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(imported)
	return imported, nil
}

// ImportMapped imports directories according to an explicit
// subpath→state-point mapping, the inverse of what Export would
// have produced for a non-self-describing layout.
func (p *Project) ImportMapped(srcDir string, mapping map[string]map[string]any) ([]string, error) {
	imported := make([]string, 0, len(mapping))
	for subpath, sp := range mapping {
		j, err := p.OpenJob(sp)
		if err != nil {
			return nil, err
		}
		if _, err := j.Init(false); err != nil {
			return nil, err
		}
		if err := copyDir(filepath.Join(srcDir, subpath), j.Path()); err != nil {
			return nil, err
		}
		imported = append(imported, j.ID())
	}
	sort.Strings(imported)
	return imported, nil
}
