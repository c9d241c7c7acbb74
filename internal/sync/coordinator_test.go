package sync

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"orcamento/internal/access"
	"orcamento/internal/cache"
	"orcamento/internal/core"
	"orcamento/internal/events"
	"orcamento/internal/ledger"
	"orcamento/internal/remote/memory"
	"orcamento/internal/storage"
	"orcamento/internal/store"
)

const (
	owner  = "ana"
	editor = "rui"
	viewer = "eva"
)

type fixture struct {
	t       *testing.T
	coord   *Coordinator
	store   *store.Store
	repo    *storage.SQLiteRepository
	bus     *events.Bus
	backend *memory.Backend
	pusher  *Pusher
	ws      core.Workspace
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	st := store.New()
	bus := events.NewBus()
	coord := NewCoordinator(st, ledger.New(st), repo, bus, cache.NewTotalsCache(64, time.Minute))
	backend := memory.New()
	pusher := NewPusher(repo, backend, coord, PusherConfig{
		PollInterval: time.Hour,
		BatchSize:    50,
		MaxRetries:   3,
	})

	ctx := context.Background()
	ws, err := coord.CreateWorkspace(ctx, owner, "Casa")
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	if _, err := coord.SetMemberRole(ctx, owner, ws.ID, editor, core.RoleEditor); err != nil {
		t.Fatalf("add editor: %v", err)
	}
	ws, err = coord.SetMemberRole(ctx, owner, ws.ID, viewer, core.RoleViewer)
	if err != nil {
		t.Fatalf("add viewer: %v", err)
	}

	return &fixture{t: t, coord: coord, store: st, repo: repo, bus: bus, backend: backend, pusher: pusher, ws: ws}
}

// drain pushes everything currently queued while the backend is online.
func (f *fixture) drain(ctx context.Context) {
	f.t.Helper()
	f.pusher.processBatch(ctx)
	stats, err := f.repo.Stats(ctx)
	if err != nil {
		f.t.Fatalf("stats: %v", err)
	}
	if stats.Pending != 0 || stats.Processing != 0 {
		f.t.Fatalf("queue not drained: %+v", stats)
	}
}

func (f *fixture) despesa(cents int64) core.Despesa {
	return core.Despesa{
		WorkspaceID:    f.ws.ID,
		MonthID:        "2025-01",
		Nome:           "Mercado",
		ValorPlanejado: core.Money{Cents: cents},
	}
}

func TestViewerMutationLeavesCacheUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before, err := f.repo.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}

	_, err = f.coord.CreateDespesa(ctx, viewer, f.despesa(5000))
	var denied *access.DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected DeniedError, got %v", err)
	}
	if denied.RequiredRole != core.RoleEditor {
		t.Errorf("required role = %s, want editor", denied.RequiredRole)
	}

	despesas, err := f.coord.Despesas(owner, f.ws.ID, "2025-01")
	if err != nil {
		t.Fatalf("list despesas: %v", err)
	}
	if len(despesas) != 0 {
		t.Errorf("store should be untouched, got %d despesas", len(despesas))
	}
	recs, err := f.repo.Scan(ctx, f.ws.ID, core.EntityDespesa)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("durable cache should be untouched, got %d records", len(recs))
	}
	after, _ := f.repo.Stats(ctx)
	if after.Pending != before.Pending {
		t.Errorf("queue grew from %d to %d", before.Pending, after.Pending)
	}
}

func TestEditorMutationFlowsThroughCacheAndQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.coord.CreateDespesa(ctx, editor, f.despesa(5000))
	if err != nil {
		t.Fatalf("create despesa: %v", err)
	}

	cached, err := f.repo.GetEntity(ctx, d.Ref())
	if err != nil {
		t.Fatalf("cached entity: %v", err)
	}
	if cached.Version != 1 {
		t.Errorf("version = %d, want 1", cached.Version)
	}

	pending, err := f.repo.PendingForWorkspace(ctx, f.ws.ID)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	found := false
	for _, item := range pending {
		if item.Ref == d.Ref() {
			found = true
		}
	}
	if !found {
		t.Error("despesa push not queued")
	}

	// Recompute happened synchronously inside the mutation.
	m, err := f.store.GetMonth(f.ws.ID, "2025-01")
	if err != nil {
		t.Fatalf("get month: %v", err)
	}
	if m.TotalDespesas.Cents != 5000 || m.Sobra.Cents != -5000 {
		t.Errorf("month totals = %+v", m)
	}
}

func TestDeleteDespesaRecomputesMonth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.coord.CreateDespesa(ctx, editor, f.despesa(5000))
	if err != nil {
		t.Fatalf("create despesa: %v", err)
	}
	if err := f.coord.DeleteDespesa(ctx, editor, f.ws.ID, d.ID); err != nil {
		t.Fatalf("delete despesa: %v", err)
	}

	m, err := f.store.GetMonth(f.ws.ID, "2025-01")
	if err != nil {
		t.Fatalf("get month: %v", err)
	}
	if m.TotalDespesas.Cents != 0 {
		t.Errorf("total after delete = %d, want 0", m.TotalDespesas.Cents)
	}
	if _, err := f.repo.GetEntity(ctx, d.Ref()); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("cache entry should be gone, got %v", err)
	}
}

func TestApplyTemplatesPublishesEachTopicOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, nome := range []string{"Renda", "Luz", "Internet"} {
		if _, err := f.coord.CreateTemplate(ctx, editor, core.Template{
			WorkspaceID:    f.ws.ID,
			Nome:           nome,
			ValorPlanejado: core.Money{Cents: 10000},
		}); err != nil {
			t.Fatalf("create template %s: %v", nome, err)
		}
	}

	var monthsEvents, expensesEvents int
	subM := f.bus.Subscribe(events.TopicMonths, func(events.Topic) { monthsEvents++ })
	defer subM.Close()
	subE := f.bus.Subscribe(events.TopicExpenses, func(events.Topic) { expensesEvents++ })
	defer subE.Close()

	created, err := f.coord.ApplyTemplates(ctx, editor, f.ws.ID, "2025-03")
	if err != nil {
		t.Fatalf("apply templates: %v", err)
	}
	if len(created) != 3 {
		t.Fatalf("created %d despesas, want 3", len(created))
	}

	if monthsEvents != 1 {
		t.Errorf("months published %d times, want exactly 1", monthsEvents)
	}
	if expensesEvents != 1 {
		t.Errorf("expenses published %d times, want exactly 1", expensesEvents)
	}

	m, err := f.store.GetMonth(f.ws.ID, "2025-03")
	if err != nil {
		t.Fatalf("get month: %v", err)
	}
	if m.TotalDespesas.Cents != 30000 {
		t.Errorf("total = %d, want 30000", m.TotalDespesas.Cents)
	}
}

func TestUpdateMissingTemplateReturnsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.coord.UpdateTemplate(ctx, editor, core.Template{
		ID:             "no-such-template",
		WorkspaceID:    f.ws.ID,
		Nome:           "Luz",
		ValorPlanejado: core.Money{Cents: 10000},
	})
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("update missing template: %v, want not found", err)
	}
	tpls, err := f.coord.Templates(editor, f.ws.ID)
	if err != nil {
		t.Fatalf("list templates: %v", err)
	}
	if len(tpls) != 0 {
		t.Errorf("templates = %+v, update must not create", tpls)
	}
}

func TestSetSaldoInicialPinsAndPushes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	totals, err := f.coord.SetSaldoInicial(ctx, editor, f.ws.ID, "2025-01", core.Money{Cents: 200000})
	if err != nil {
		t.Fatalf("set saldo: %v", err)
	}
	if totals.SaldoInicial.Cents != 200000 || totals.Sobra.Cents != 200000 {
		t.Errorf("totals = %+v", totals)
	}

	m, err := f.store.GetMonth(f.ws.ID, "2025-01")
	if err != nil {
		t.Fatalf("get month: %v", err)
	}
	if !m.SaldoOverride || !m.Opened {
		t.Errorf("month should be pinned: %+v", m)
	}

	pending, _ := f.repo.PendingForWorkspace(ctx, f.ws.ID)
	found := false
	for _, item := range pending {
		if item.Ref == m.Ref() {
			found = true
		}
	}
	if !found {
		t.Error("pinned month should be queued for remote push")
	}
}

func TestTotalsReadDoesNotQueuePushes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before, _ := f.repo.Stats(ctx)
	if _, err := f.coord.Totals(ctx, viewer, f.ws.ID, "2025-06"); err != nil {
		t.Fatalf("totals: %v", err)
	}
	after, _ := f.repo.Stats(ctx)
	if after.Pending != before.Pending {
		t.Errorf("read grew the queue from %d to %d", before.Pending, after.Pending)
	}

	// Second read hits the totals cache and still agrees.
	totals, err := f.coord.Totals(ctx, viewer, f.ws.ID, "2025-06")
	if err != nil {
		t.Fatalf("totals again: %v", err)
	}
	if totals.Sobra.Cents != 0 {
		t.Errorf("sobra = %d, want 0", totals.Sobra.Cents)
	}
}

func TestDeleteWorkspaceCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.coord.CreateDespesa(ctx, editor, f.despesa(5000)); err != nil {
		t.Fatalf("create despesa: %v", err)
	}

	if err := f.coord.DeleteWorkspace(ctx, editor, f.ws.ID); err == nil {
		t.Fatal("editor must not delete the workspace")
	}
	if err := f.coord.DeleteWorkspace(ctx, owner, f.ws.ID); err != nil {
		t.Fatalf("delete workspace: %v", err)
	}

	if _, err := f.store.GetWorkspace(f.ws.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("workspace should be gone, got %v", err)
	}
	recs, _ := f.repo.Scan(ctx, f.ws.ID, core.EntityDespesa)
	if len(recs) != 0 {
		t.Errorf("cache should be purged, got %d records", len(recs))
	}

	// Only the workspace tombstone survives the purge.
	pending, _ := f.repo.PendingForWorkspace(ctx, f.ws.ID)
	if len(pending) != 1 || !pending[0].Deleted || pending[0].Ref.Type != core.EntityWorkspace {
		t.Errorf("pending after delete = %+v", pending)
	}
}

func TestHydrateRebuildsStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.coord.CreateDespesa(ctx, editor, f.despesa(7000))
	if err != nil {
		t.Fatalf("create despesa: %v", err)
	}
	if _, err := f.coord.CreateCartao(ctx, editor, core.Cartao{
		WorkspaceID: f.ws.ID, Nome: "Nubank", ClosingDay: 5,
	}); err != nil {
		t.Fatalf("create cartao: %v", err)
	}

	// Fresh store over the same durable cache, as after a restart.
	st := store.New()
	coord := NewCoordinator(st, ledger.New(st), f.repo, events.NewBus(), nil)
	if err := coord.Hydrate(ctx); err != nil {
		t.Fatalf("hydrate: %v", err)
	}

	got, err := st.GetDespesa(f.ws.ID, d.ID)
	if err != nil {
		t.Fatalf("despesa after hydrate: %v", err)
	}
	if got.ValorPlanejado.Cents != 7000 {
		t.Errorf("hydrated despesa = %+v", got)
	}
	cards, err := st.Cartoes(f.ws.ID)
	if err != nil || len(cards) != 1 {
		t.Errorf("hydrated cartoes = %v, %v", cards, err)
	}
	m, err := st.GetMonth(f.ws.ID, "2025-01")
	if err != nil {
		t.Fatalf("month after hydrate: %v", err)
	}
	if m.TotalDespesas.Cents != 7000 {
		t.Errorf("hydrated month = %+v", m)
	}
}
