package target

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/retry"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

// ProbeResult describes a target that passed or failed its readiness probe.
type ProbeResult struct {
	Capacity int64  `json:"capacity"`
	Free     int64  `json:"free"`
	FSType   string `json:"fs_type,omitempty"`
	Writable bool   `json:"writable"`
}

// Prober checks whether a detected target can be synced to.
type Prober interface {
	Probe(ctx context.Context, path string) (ProbeResult, error)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, path string) (ProbeResult, error)

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context, path string) (ProbeResult, error) { return f(ctx, path) }

// FSProbe checks that the path is a directory on an accepted filesystem
// with enough free space, and that a file can be written and removed.
type FSProbe struct {
	MinFree    int64
	RequiredFS []string
}

// Probe implements Prober.
func (p FSProbe) Probe(ctx context.Context, path string) (ProbeResult, error) {
	var res ProbeResult
	if err := ctx.Err(); err != nil {
		return res, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return res, retry.New(retry.CategoryDevice, "probe", err)
	}
	if !info.IsDir() {
		return res, retry.Errorf(retry.CategoryDevice, "%s is not a directory", path)
	}

	res, err = statfs(path)
	if err != nil {
		return res, retry.New(retry.CategoryDevice, "statfs", err)
	}

	if len(p.RequiredFS) > 0 && !slices.ContainsFunc(p.RequiredFS, func(fs string) bool {
		return strings.EqualFold(fs, res.FSType)
	}) {
		e := retry.Errorf(retry.CategoryDevice, "filesystem %q is not one of %s", res.FSType, strings.Join(p.RequiredFS, ", "))
		e.Class = retry.NonRetryable
		return res, e
	}

	if err := writeTest(path); err != nil {
		return res, retry.New(retry.CategoryPermission, "write test", err)
	}
	res.Writable = true

	if p.MinFree > 0 && res.Free < p.MinFree {
		return res, retry.New(retry.CategoryResource, "free space",
			fmt.Errorf("%s free, need %s", types.FormatSize(res.Free), types.FormatSize(p.MinFree)))
	}
	return res, nil
}

func writeTest(dir string) error {
	f, err := os.CreateTemp(dir, ".dpsync-probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_, err = f.WriteString("ok")
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if rerr := os.Remove(name); err == nil {
		err = rerr
	}
	return err
}
