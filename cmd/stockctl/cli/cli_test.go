package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockroom/internal/app"
	"github.com/odyssey-erp/stockroom/internal/catalog"
	"github.com/odyssey-erp/stockroom/internal/csvimport"
	"github.com/odyssey-erp/stockroom/jobs"
	_ "github.com/odyssey-erp/stockroom/testing"
)

// ============================================================================
// MOCK
// ============================================================================

type memoryBackend struct {
	categories []catalog.Category
	products   []catalog.Product
	created    []string
	requests   []catalog.ImportRequest
	importErr  error
}

func (b *memoryBackend) ListCategories(context.Context) ([]catalog.Category, error) {
	return b.categories, nil
}

func (b *memoryBackend) CreateCategory(_ context.Context, name string) (catalog.Category, error) {
	b.created = append(b.created, name)
	c := catalog.Category{ID: int64(100 + len(b.created)), Name: name}
	b.categories = append(b.categories, c)
	return c, nil
}

func (b *memoryBackend) ListProducts(context.Context) ([]catalog.Product, error) {
	return b.products, nil
}

func (b *memoryBackend) ImportProducts(_ context.Context, req catalog.ImportRequest) (catalog.ImportResult, error) {
	if b.importErr != nil {
		return catalog.ImportResult{}, b.importErr
	}
	b.requests = append(b.requests, req)
	result := catalog.ImportResult{}
	for _, p := range req.Products {
		if strings.HasPrefix(p.PartNo, "OLD") {
			result.UpdateCount++
		} else {
			result.NewCount++
		}
	}
	return result, nil
}

type fakeEnqueuer struct {
	payloads []jobs.CatalogImportPayload
}

func (f *fakeEnqueuer) EnqueueCatalogImport(_ context.Context, p jobs.CatalogImportPayload) (string, error) {
	f.payloads = append(f.payloads, p)
	return "task-1", nil
}

func (f *fakeEnqueuer) Close() error { return nil }

func intPtr(v int) *int { return &v }

func newBackend() *memoryBackend {
	return &memoryBackend{
		categories: []catalog.Category{{ID: 1, Name: "Tools", Children: []catalog.Category{{ID: 2, Name: "Hand tools"}}}},
		products: []catalog.Product{
			{Name: "Old hammer", PartNo: "OLD-1", SalePrice: 24, Quantity: intPtr(3)},
			{Name: "Gizmo", PartNo: "G-1", SalePrice: 5.5},
		},
	}
}

type harness struct {
	backend  *memoryBackend
	enqueuer *fakeEnqueuer
	out      bytes.Buffer
	errOut   bytes.Buffer
	cfg      *app.Config
}

func newHarness(t *testing.T) *harness {
	return &harness{
		backend:  newBackend(),
		enqueuer: &fakeEnqueuer{},
		cfg:      &app.Config{BackendURL: "http://backend.test", UploadDir: t.TempDir(), LogLevel: "error"},
	}
}

func (h *harness) run(stdin string, args ...string) int {
	return Execute(context.Background(), args, &Env{
		In:          strings.NewReader(stdin),
		Out:         &h.out,
		Err:         &h.errOut,
		LoadConfig:  func() (*app.Config, error) { return h.cfg, nil },
		NewBackend:  func(*app.Config) (csvimport.Backend, error) { return h.backend, nil },
		NewEnqueuer: func(*app.Config) (Enqueuer, error) { return h.enqueuer, nil },
	})
}

func writeCSV(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "products.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const productsCSV = "Product Name,UPC,Cost Price,Quantity\n" +
	"Hammer,OLD-1,20,2\n" +
	"Saw,S-1,10,1\n" +
	",X-1,5,1\n"

// ============================================================================
// TESTS
// ============================================================================

func TestImportHeadless(t *testing.T) {
	h := newHarness(t)
	path := writeCSV(t, productsCSV)

	code := h.run("", "import", path, "--category", "2", "--strategy", "replace", "--json")
	require.Equal(t, exitOK, code, h.errOut.String())

	require.Len(t, h.backend.requests, 1)
	req := h.backend.requests[0]
	assert.Equal(t, int64(2), req.CategoryID)
	require.Len(t, req.Products, 2)
	assert.Equal(t, 2, *req.Products[0].Quantity, "replace keeps the file quantity")
	assert.Equal(t, 20.0, req.Products[0].MarkupPercentage)

	var summary csvimport.Summary
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &summary))
	assert.Equal(t, "Hand tools", summary.CategoryName)
	assert.Equal(t, 1, summary.UpdateCount)
	require.Len(t, summary.Rejections, 1)
	assert.Equal(t, 4, summary.Rejections[0].Line)
}

func TestImportHeadlessAddStrategyAndMarkup(t *testing.T) {
	h := newHarness(t)
	path := writeCSV(t, productsCSV)

	code := h.run("", "import", path, "--new-category", "Garden", "--markup", "50")
	require.Equal(t, exitOK, code, h.errOut.String())

	assert.Equal(t, []string{"Garden"}, h.backend.created)
	req := h.backend.requests[0]
	assert.Equal(t, int64(101), req.CategoryID)
	assert.Equal(t, 5, *req.Products[0].Quantity, "add sums existing and incoming stock")
	assert.Equal(t, 50.0, req.Products[1].MarkupPercentage)
	assert.Contains(t, h.out.String(), "Imported into Garden")
}

func TestImportInteractive(t *testing.T) {
	h := newHarness(t)
	path := writeCSV(t, productsCSV)

	answers := strings.Join([]string{
		"99",      // unknown category, asked again
		"new",     // new category
		"",        // without a name, asked again
		"1",       // existing category
		"maybe",   // not an option
		"replace", // strategy
		"each",    // per product markup
		"30",      // Hammer
		"b",       // back to Hammer
		"",        // keep 30
		"45",      // Saw, last product submits
	}, "\n") + "\n"

	code := h.run(answers, "import", "-i", path)
	require.Equal(t, exitOK, code, h.errOut.String())

	out := h.out.String()
	assert.Contains(t, out, "2 products ready to import.")
	assert.Contains(t, out, "skipped line 4")
	assert.Contains(t, out, "selected category does not exist")
	assert.Contains(t, out, "Please enter a category name")
	assert.Contains(t, out, "Hammer (OLD-1): 3 in stock, 2 in file")
	assert.Contains(t, out, "Imported into Tools")

	req := h.backend.requests[0]
	assert.Equal(t, int64(1), req.CategoryID)
	assert.Equal(t, 30.0, req.Products[0].MarkupPercentage)
	assert.Equal(t, 45.0, req.Products[1].MarkupPercentage)
	assert.Equal(t, 2, *req.Products[0].Quantity)
}

func TestImportInteractiveCancel(t *testing.T) {
	h := newHarness(t)
	path := writeCSV(t, productsCSV)

	code := h.run("cancel\n", "import", "--interactive", path)
	require.Equal(t, exitOK, code, h.errOut.String())
	assert.Contains(t, h.out.String(), "Import cancelled.")
	assert.Empty(t, h.backend.requests)
}

func TestImportExitCodes(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, exitUsage, h.run("", "import"))
	assert.Equal(t, exitUsage, h.run("", "import", writeCSV(t, productsCSV)))
	assert.Equal(t, exitUsage, h.run("", "import", "x.csv", "--bogus"))
	assert.Equal(t, exitUsage, h.run("", "import", writeCSV(t, productsCSV), "--category", "1", "--strategy", "merge"))

	h.errOut.Reset()
	assert.Equal(t, exitValidation, h.run("", "import", writeCSV(t, "Product Name,UPC\n"), "--category", "1"))
	assert.Contains(t, h.errOut.String(), "CSV is empty or invalid")

	h.backend.importErr = &catalog.APIError{Status: 409, Message: "Category is locked"}
	h.errOut.Reset()
	assert.Equal(t, exitBackend, h.run("", "import", writeCSV(t, productsCSV), "--category", "1"))
	assert.Contains(t, h.errOut.String(), "Category is locked")

	errCfg := Execute(context.Background(), []string{"export"}, &Env{
		Out:        &h.out,
		Err:        &h.errOut,
		LoadConfig: func() (*app.Config, error) { return nil, errors.New("BACKEND_URL missing") },
	})
	assert.Equal(t, exitUsage, errCfg)
}

func TestImportEnqueue(t *testing.T) {
	h := newHarness(t)
	path := writeCSV(t, productsCSV)

	code := h.run("", "import", path, "--category", "1", "--enqueue")
	require.Equal(t, exitOK, code, h.errOut.String())
	assert.Contains(t, h.out.String(), "task task-1")

	require.Len(t, h.enqueuer.payloads, 1)
	payload := h.enqueuer.payloads[0]
	assert.Equal(t, int64(1), payload.Plan.Category.ID)
	assert.Nil(t, payload.Plan.Markup)

	spooled, err := os.ReadFile(payload.Path)
	require.NoError(t, err)
	assert.Equal(t, productsCSV, string(spooled))
	assert.Empty(t, h.backend.requests)
}

func TestExportCSVToStdout(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, exitOK, h.run("", "export"), h.errOut.String())

	lines := strings.Split(strings.TrimSpace(h.out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Product Name,Part Number,Cost Price,Sale Price,Quantity", lines[0])
	assert.Equal(t, "Old hammer,OLD-1,0,24,3", lines[1])
}

func TestExportXLSXFromExtension(t *testing.T) {
	h := newHarness(t)
	out := filepath.Join(t.TempDir(), "catalog.xlsx")
	require.Equal(t, exitOK, h.run("", "export", "-o", out), h.errOut.String())

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte("PK")), "xlsx is a zip archive")
	assert.Contains(t, h.errOut.String(), "Exported 2 products")

	assert.Equal(t, exitUsage, h.run("", "export", "--format", "pdf"))
}

func TestInvoiceFromCSVAndScans(t *testing.T) {
	h := newHarness(t)
	path := writeCSV(t, "UPC,Quantity\nOLD-1,2\nNOPE,1\n")

	code := h.run("G-1\nG-1\nOLD-1\nBAD\n", "invoice", path, "--scan", "--tax", "10", "--json")
	require.Equal(t, exitOK, code, h.errOut.String())

	var draft struct {
		Lines []struct {
			PartNo   string `json:"partNo"`
			Quantity int    `json:"quantity"`
		} `json:"lines"`
		Totals struct {
			Total string `json:"total"`
		} `json:"totals"`
		Rejections []csvimport.Rejection `json:"rejections"`
		Unknown    []string              `json:"unknownCodes"`
	}
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &draft))
	require.Len(t, draft.Lines, 2)
	assert.Equal(t, "OLD-1", draft.Lines[0].PartNo)
	assert.Equal(t, 3, draft.Lines[0].Quantity)
	assert.Equal(t, 2, draft.Lines[1].Quantity)
	assert.Equal(t, "91.3", draft.Totals.Total)
	require.Len(t, draft.Rejections, 1)
	assert.Equal(t, []string{"BAD"}, draft.Unknown)
	assert.Contains(t, h.errOut.String(), "unknown barcode BAD")
}

func TestInvoiceRequiresInput(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, exitUsage, h.run("", "invoice"))
}

func TestInvoiceRejectsNonFinitePercentages(t *testing.T) {
	for _, args := range [][]string{
		{"invoice", "--scan", "--discount", "NaN"},
		{"invoice", "--scan", "--tax", "Inf"},
		{"invoice", "--scan", "--tax=-5"},
	} {
		h := newHarness(t)
		assert.Equal(t, exitUsage, h.run("OLD-1\n", args...), args)
		assert.Empty(t, h.out.String(), args)
	}
}

func TestImportRejectsNonFiniteMarkup(t *testing.T) {
	h := newHarness(t)
	path := writeCSV(t, productsCSV)
	assert.Equal(t, exitUsage, h.run("", "import", path, "--category", "2", "--markup", "Inf"))
	assert.Contains(t, h.errOut.String(), "--markup must be a finite number")
	assert.Empty(t, h.backend.requests)
}
