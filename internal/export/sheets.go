// Package export mirrors month totals into a Google spreadsheet so a shared
// dashboard stays readable without running the engine. It is a pure
// read-side observer: it subscribes to month changes and rewrites the sheet
// in the background, never feeding anything back.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"orcamento/internal/events"
	"orcamento/internal/store"
)

// Config holds what the exporter needs to reach the spreadsheet.
type Config struct {
	SpreadsheetID string
	SheetName     string

	OAuthClientFile string
	OAuthClientJSON string
	OAuthTokenFile  string
	OAuthTokenJSON  string

	// FlushInterval bounds how often the sheet is rewritten (default: 30s).
	FlushInterval time.Duration
}

// Exporter rewrites one sheet with the totals of every materialized month.
// Bus delivery is synchronous inside mutations, so the subscription only
// flips a dirty flag; the network write happens in the background loop.
type Exporter struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
	st            *store.Store
	interval      time.Duration

	dirty atomic.Bool
	sub   *events.Subscription

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewExporter builds the sheets service from OAuth client and token
// credentials, the way the token bootstrap tool writes them.
func NewExporter(ctx context.Context, st *store.Store, cfg Config) (*Exporter, error) {
	if cfg.SpreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if cfg.SheetName == "" {
		cfg.SheetName = "Totais"
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}

	svc, err := newSheetsService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Exporter{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     cfg.SheetName,
		st:            st,
		interval:      cfg.FlushInterval,
	}, nil
}

func newSheetsService(ctx context.Context, cfg Config) (*gsheet.Service, error) {
	clientJSON, err := readCredential(cfg.OAuthClientJSON, cfg.OAuthClientFile)
	if err != nil {
		return nil, fmt.Errorf("oauth client: %w", err)
	}
	oauthCfg, err := google.ConfigFromJSON(clientJSON, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("oauth config: %w", err)
	}

	tokenJSON, err := readCredential(cfg.OAuthTokenJSON, cfg.OAuthTokenFile)
	if err != nil {
		return nil, fmt.Errorf("oauth token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(tokenJSON, &tok); err != nil {
		return nil, fmt.Errorf("decode oauth token: %w", err)
	}

	return gsheet.NewService(ctx, goption.WithHTTPClient(oauthCfg.Client(ctx, &tok)))
}

func readCredential(inline, file string) ([]byte, error) {
	switch {
	case inline != "":
		return []byte(inline), nil
	case file != "":
		return os.ReadFile(file)
	default:
		return nil, errors.New("neither inline JSON nor file provided")
	}
}

// Start subscribes to month changes and begins the flush loop.
func (e *Exporter) Start(ctx context.Context, bus *events.Bus) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("exporter is already running")
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	e.mu.Unlock()

	e.sub = bus.Subscribe(events.TopicMonths, func(events.Topic) {
		e.dirty.Store(true)
	})
	e.dirty.Store(true) // initial full write

	go e.runLoop(ctx)

	slog.InfoContext(ctx, "Sheets export started",
		"spreadsheet_id", e.spreadsheetID,
		"sheet", e.sheetName,
		"flush_interval", e.interval)
	return nil
}

// Stop unsubscribes and waits for the loop to finish.
func (e *Exporter) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	e.sub.Close()
	close(e.stopCh)

	select {
	case <-e.doneCh:
		slog.InfoContext(ctx, "Sheets export stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Sheets export stop timed out")
		return ctx.Err()
	}

	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	return nil
}

func (e *Exporter) runLoop(ctx context.Context) {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.dirty.Swap(false) {
				if err := e.flush(ctx); err != nil {
					slog.ErrorContext(ctx, "Sheets export flush failed", "error", err)
					e.dirty.Store(true)
				}
			}
		}
	}
}

// flush rewrites the whole sheet. Totals change through rollover in ways a
// row-level diff cannot track cheaply, so a full rewrite keeps it simple.
func (e *Exporter) flush(ctx context.Context) error {
	rows := BuildRows(e.st)

	clearRange := fmt.Sprintf("%s!A:G", e.sheetName)
	if _, err := e.svc.Spreadsheets.Values.Clear(e.spreadsheetID, clearRange, &gsheet.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear %s: %w", clearRange, err)
	}

	writeRange := fmt.Sprintf("%s!A1", e.sheetName)
	vr := &gsheet.ValueRange{Values: rows}
	if _, err := e.svc.Spreadsheets.Values.Update(e.spreadsheetID, writeRange, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do(); err != nil {
		return fmt.Errorf("update %s: %w", writeRange, err)
	}

	slog.DebugContext(ctx, "Sheets export flushed", "rows", len(rows)-1)
	return nil
}

// BuildRows renders the dashboard rows: a header plus one row per
// materialized month of every workspace, ordered by workspace name then
// month.
func BuildRows(st *store.Store) [][]any {
	rows := [][]any{{
		"Workspace", "Month", "Saldo Inicial", "Despesas", "Cartoes", "Total", "Sobra",
	}}

	workspaces := st.Workspaces()
	sort.Slice(workspaces, func(i, j int) bool {
		if workspaces[i].Name != workspaces[j].Name {
			return workspaces[i].Name < workspaces[j].Name
		}
		return workspaces[i].ID < workspaces[j].ID
	})

	for _, ws := range workspaces {
		months, err := st.Months(ws.ID)
		if err != nil {
			continue
		}
		sort.Slice(months, func(i, j int) bool { return months[i].ID < months[j].ID })
		for _, m := range months {
			total := m.TotalDespesas.Add(m.TotalCartoes)
			rows = append(rows, []any{
				ws.Name,
				string(m.ID),
				m.SaldoInicial.String(),
				m.TotalDespesas.String(),
				m.TotalCartoes.String(),
				total.String(),
				m.Sobra.String(),
			})
		}
	}
	return rows
}
