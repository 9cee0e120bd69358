package vcs

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/cadops/cadet/pkg/vcs/status"
	ini "github.com/go-ini/ini"
)

// UserName resolves the acting user's name from git configuration. This
// is the identity the lock coordinator presents to the lock primitive,
// so lock ownership checks compare like with like.
func (g *Git) UserName(ctx context.Context) (string, error) {
	if out, err := g.Run(ctx, "config", "--get", "user.name"); err == nil {
		if name := strings.TrimSpace(out); name != "" {
			return name, nil
		}
	}
	if name := g.userNameFromFiles(); name != "" {
		return name, nil
	}
	return "", status.ErrNoIdentity.WrapMessage("set user.name in your git configuration")
}

// userNameFromFiles reads git config files directly, keeping identity
// resolution alive when the git binary is unavailable.
func (g *Git) userNameFromFiles() string {
	var candidates []string
	if p := localConfigPath(g.dir); p != "" {
		candidates = append(candidates, p)
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".gitconfig"))
	}
	for _, p := range candidates {
		f, err := ini.Load(p)
		if err != nil {
			continue
		}
		if name := f.Section("user").Key("name").String(); name != "" {
			return name
		}
	}
	return ""
}

// localConfigPath walks up from dir to the repository config file,
// following the gitdir pointer when .git is a work tree link file.
func localConfigPath(dir string) string {
	d, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}
	for {
		dotGit := filepath.Join(d, ".git")
		if fi, err := os.Stat(dotGit); err == nil {
			if fi.IsDir() {
				return filepath.Join(dotGit, "config")
			}
			if buf, err := os.ReadFile(dotGit); err == nil {
				line := strings.TrimSpace(string(buf))
				if strings.HasPrefix(line, "gitdir:") {
					p := strings.TrimSpace(strings.TrimPrefix(line, "gitdir:"))
					if !filepath.IsAbs(p) {
						p = filepath.Join(d, p)
					}
					return filepath.Join(p, "config")
				}
			}
			return ""
		}
		parent := filepath.Dir(d)
		if parent == d {
			return ""
		}
		d = parent
	}
}
