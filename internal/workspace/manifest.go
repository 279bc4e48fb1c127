package workspace

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pp-engine/pp/internal/canonjson"
	"github.com/pp-engine/pp/internal/errs"
)

// ManifestFile is one file entry of a WorkspaceManifest (spec §3).
type ManifestFile struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// Manifest is the WorkspaceManifest spec §3 describes: every file under
// the workspace root, excluding the artifact directory and .git, plus a
// root digest over the sorted list.
type Manifest struct {
	Files      []ManifestFile `json:"files"`
	RootSHA256 string         `json:"root_sha256"`
}

// BuildManifest walks root and hashes every regular file, excluding
// excludeDirs (absolute paths; typically the artifact directory) and any
// ".git" directory, per spec §3's WorkspaceManifest definition.
func BuildManifest(root string, excludeDirs ...string) (Manifest, error) {
	excluded := make(map[string]bool, len(excludeDirs))
	for _, d := range excludeDirs {
		abs, err := filepath.Abs(d)
		if err == nil {
			excluded[filepath.Clean(abs)] = true
		}
	}

	var files []ManifestFile

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if path != root && (d.Name() == ".git" || excluded[filepath.Clean(path)]) {
				return filepath.SkipDir
			}

			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		sum, size, err := hashFile(path)
		if err != nil {
			return err
		}

		files = append(files, ManifestFile{Path: filepath.ToSlash(rel), SHA256: sum, Size: size})

		return nil
	})
	if walkErr != nil {
		return Manifest{}, errs.Wrap(errs.IOError, walkErr, "building workspace manifest for %s", root)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	return Manifest{Files: files, RootSHA256: rootDigest(files)}, nil
}

// rootDigest hashes the sorted "path\tsha256\n" list, per spec §3:
// "root_sha256 is the digest of the sorted path\tsha256\n list."
func rootDigest(files []ManifestFile) string {
	var b strings.Builder

	for _, f := range files {
		b.WriteString(f.Path)
		b.WriteByte('\t')
		b.WriteString(f.SHA256)
		b.WriteByte('\n')
	}

	return canonjson.SHA256Hex([]byte(b.String()))
}

func hashFile(path string) (string, int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, errs.Wrap(errs.IOError, err, "read %s", path)
	}

	return canonjson.SHA256Hex(data), int64(len(data)), nil
}
