//go:build integration

// Package testutil runs command binaries in containers next to a database.
package testutil

import (
	"context"
	"database/sql"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/network"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/velmie/pipeline-outbox/postgres"
)

const (
	postgresImage = "postgres:16-alpine"
	postgresAlias = "postgres"
	runnerImage   = "alpine:3.20"
	binaryPath    = "/pipelinectl"
)

// Harness holds a PostgreSQL server and a linux build of the command under test.
// DB is the host-side connection; commands reach the server by its network alias.
type Harness struct {
	DB *sql.DB

	net *testcontainers.DockerNetwork
	bin string
	env map[string]string
}

// NewHarness starts PostgreSQL on a private network and builds pkg.
// The test is skipped when Docker is unavailable.
func NewHarness(t *testing.T, ctx context.Context, pkg string) *Harness {
	t.Helper()

	nw, err := network.New(ctx)
	if err != nil {
		t.Skipf("create network: %v", err)
	}
	t.Cleanup(func() { _ = nw.Remove(ctx) })

	pg, err := tcpostgres.Run(ctx, postgresImage,
		tcpostgres.WithDatabase("pipeline"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		network.WithNetwork([]string{postgresAlias}, nw),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	if err != nil {
		t.Skipf("start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("postgres dsn: %v", err)
	}
	db, err := postgres.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return &Harness{
		DB:  db,
		net: nw,
		bin: build(t, pkg),
		env: map[string]string{
			"PIPELINE_DATABASE_DRIVER": "postgres",
			"PIPELINE_DATABASE_DSN":    "postgres://test:test@" + postgresAlias + ":5432/pipeline?sslmode=disable",
			"PIPELINE_LOG_FORMAT":      "console",
		},
	}
}

// Run executes the binary with args to completion and returns its exit code and combined output.
func (h *Harness) Run(t *testing.T, ctx context.Context, args ...string) (int, string) {
	t.Helper()

	ctr, err := testcontainers.Run(ctx, runnerImage,
		testcontainers.WithFiles(testcontainers.ContainerFile{
			HostFilePath:      h.bin,
			ContainerFilePath: binaryPath,
			FileMode:          0o755,
		}),
		testcontainers.WithEntrypoint(binaryPath),
		testcontainers.WithCmd(args...),
		testcontainers.WithEnv(h.env),
		network.WithNetwork(nil, h.net),
		testcontainers.WithWaitStrategy(wait.ForExit().WithExitTimeout(2*time.Minute)),
	)
	if err != nil {
		t.Fatalf("run %v: %v", args, err)
	}
	t.Cleanup(func() { _ = ctr.Terminate(ctx) })

	rc, err := ctr.Logs(ctx)
	if err != nil {
		t.Fatalf("logs %v: %v", args, err)
	}
	defer rc.Close()
	out, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("logs %v: %v", args, err)
	}

	state, err := ctr.State(ctx)
	if err != nil {
		t.Fatalf("state %v: %v", args, err)
	}

	return state.ExitCode, string(out)
}

func build(t *testing.T, pkg string) string {
	t.Helper()

	bin := filepath.Join(t.TempDir(), "pipelinectl")
	cmd := exec.Command("go", "build", "-o", bin, pkg)
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0", "GOOS=linux", "GOARCH="+runtime.GOARCH)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("build %s: %v\n%s", pkg, err, out)
	}

	return bin
}
