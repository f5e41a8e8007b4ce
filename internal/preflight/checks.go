package preflight

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"voice2action/internal/config"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace verifies the filesystem holding path has at least min bytes free.
func CheckFreeSpace(name, path string, min uint64) Result {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	free := stat.Bavail * uint64(stat.Bsize)
	if free < min {
		return Result{Name: name, Detail: fmt.Sprintf("%s free, need %s", humanize.IBytes(free), humanize.IBytes(min))}
	}
	return Result{Name: name, Passed: true, Detail: humanize.IBytes(free) + " free"}
}

// CheckCredentials verifies a Graph credential can be obtained without
// operator interaction.
func CheckCredentials(ctx context.Context, cfg config.Graph, creds CredentialDescriber) Result {
	const name = "Graph credentials"

	if cfg.Grant == config.GrantClientCredentials {
		if cfg.ClientID == "" || cfg.ClientSecret == "" {
			return Result{Name: name, Detail: "client_credentials grant needs graph.client_id and graph.client_secret"}
		}
		return Result{Name: name, Passed: true, Detail: "client credentials configured"}
	}
	if strings.TrimSpace(cfg.BootstrapToken) != "" {
		return Result{Name: name, Passed: true, Detail: "bootstrap token provided (MS_GRAPH_TOKEN)"}
	}
	if creds == nil {
		return Result{Name: name, Detail: "credential manager unavailable"}
	}
	status, err := creds.Describe(ctx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("read token state: %v", err)}
	}
	switch {
	case !status.Present:
		return Result{Name: name, Detail: "no token; run `voice2action auth url` and complete consent"}
	case status.HasRefreshToken:
		return Result{Name: name, Passed: true, Detail: "refresh token present"}
	case status.NeedsRefresh:
		return Result{Name: name, Detail: "token expires soon and cannot be refreshed; repeat consent"}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("token valid for %s", status.Remaining.Round(time.Second))}
}

// TokenSource returns a bearer token for Graph requests.
type TokenSource interface {
	ValidToken(ctx context.Context) (string, error)
}

// CheckGraphDrive verifies Graph connectivity and authentication by reading
// the drive root.
func CheckGraphDrive(ctx context.Context, baseURL string, tokens TokenSource) Result {
	const name = "Graph drive"

	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return Result{Name: name, Detail: "missing url"}
	}
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	token, err := tokens.ValidToken(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("token unavailable (%v)", err)}
	}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, base+"/drive/root", nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("drive check failed (%v)", err)}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("drive check failed (%v)", err)}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return Result{Name: name, Passed: true, Detail: "Reachable"}
	case http.StatusUnauthorized, http.StatusForbidden:
		return Result{Name: name, Detail: "auth failed (token rejected)"}
	default:
		return Result{Name: name, Detail: fmt.Sprintf("drive check failed (%d)", resp.StatusCode)}
	}
}
