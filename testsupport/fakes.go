package testsupport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"QFMIngest/config"
	"QFMIngest/core/audio"
	"QFMIngest/core/pipeline"
	"QFMIngest/core/stage"
	"QFMIngest/db"
	"QFMIngest/model"
	"QFMIngest/repository"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// FakeTranscoder writes a small marker file per preset instead of running ffmpeg.
type FakeTranscoder struct {
	mu sync.Mutex
	// FailOn holds preset names whose encode fails with ErrEncoderFailure.
	FailOn map[string]bool
	Calls  []string
}

func (f *FakeTranscoder) Encode(ctx context.Context, input string, preset model.QualityPreset, output string) error {
	f.mu.Lock()
	f.Calls = append(f.Calls, preset.Name)
	fail := f.FailOn[preset.Name]
	f.mu.Unlock()

	if fail {
		return fmt.Errorf("%w: preset %s exited with status 1", pipeline.ErrEncoderFailure, preset.Name)
	}
	if _, err := os.Stat(input); err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrEncoderFailure, err)
	}
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return err
	}
	return os.WriteFile(output, []byte("encoded:"+preset.Name), 0644)
}

// CallCount returns how many encodes were attempted.
func (f *FakeTranscoder) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

// FakeProber returns a fixed result.
type FakeProber struct {
	Result audio.ProbeResult
	Err    error
}

func (p *FakeProber) Probe(ctx context.Context, path string) (audio.ProbeResult, error) {
	if p.Err != nil {
		return audio.ProbeResult{}, p.Err
	}
	return p.Result, nil
}

// OpenDatabase opens a migrated and seeded SQLite database in a temp dir.
func OpenDatabase(t testing.TB) (*gorm.DB, repository.Database) {
	t.Helper()
	cfg := config.Default()
	cfg.DBDriver = "sqlite"
	cfg.DBDSN = filepath.Join(t.TempDir(), "ingest.db")
	cfg.DBLogLevel = "silent"

	gdb, err := db.Open(&cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gdb) })

	database := repository.NewGormDatabase(gdb)
	ctx := context.Background()
	require.NoError(t, database.AutoMigrate(ctx))
	catalog, err := config.LoadCatalog("")
	require.NoError(t, err)
	require.NoError(t, database.Seed(ctx, catalog))
	return gdb, database
}

// NewStage creates a stage rooted in a temp dir with a fast delete retry.
func NewStage(t testing.TB) *stage.Stage {
	t.Helper()
	st, err := stage.New(t.TempDir(), 5*time.Millisecond, 20)
	require.NoError(t, err)
	return st
}

// StageFiles lists every regular file below the stage root, lock files excluded.
func StageFiles(t testing.TB, st *stage.Stage) []string {
	t.Helper()
	var files []string
	err := filepath.Walk(st.Root(), func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == "locks" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, _ := filepath.Rel(st.Root(), p)
		files = append(files, rel)
		return nil
	})
	require.NoError(t, err)
	return files
}

// Containers returns the default container names.
func Containers() (string, string, string) {
	cfg := config.Default()
	return cfg.UploadContainer, cfg.TrackContainer, cfg.ArtContainer
}

var (
	_ audio.Transcoder = (*FakeTranscoder)(nil)
	_ audio.Prober     = (*FakeProber)(nil)
)
