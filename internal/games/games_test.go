package games

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRenderTile(t *testing.T) {
	var buf bytes.Buffer
	err := RenderTile(&buf, Tile{
		Name:  `Snake "Classic"`,
		Cover: "covers/snake.png",
		HTML:  `<canvas id="c"></canvas><script>alert(1)</script>`,
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `class="game-tile`)
	assert.Contains(t, out, `src="covers/snake.png"`)
	assert.Contains(t, out, `alt="Snake &#34;Classic&#34;"`)
	assert.Contains(t, out, `<div class="hidden game-html">&lt;canvas id=&#34;c&#34;&gt;`)
	assert.NotContains(t, out, "<script>", "game markup is never live in the tile")
}

func TestRenderTile_Incomplete(t *testing.T) {
	tests := map[string]Tile{
		"no name":  {Cover: "c.png", HTML: "<p>x</p>"},
		"no cover": {Name: "x", HTML: "<p>x</p>"},
		"no html":  {Name: "x", Cover: "c.png", HTML: "   "},
	}
	for name, tile := range tests {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			assert.ErrorIs(t, RenderTile(&buf, tile), ErrIncompleteTile)
			assert.Zero(t, buf.Len())
		})
	}
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "Space_Invaders.html", FileName(" Space Invaders "))
	assert.Equal(t, "game.html", FileName(""))
}

func writeGamesDir(t *testing.T, catalog string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, CatalogFile), []byte(catalog), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "snake.html"), []byte("<canvas></canvas>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "snake.png"), []byte("\x89PNG\r\n\x1a\n"), 0o644))
	return dir
}

func TestLoadCatalog(t *testing.T) {
	dir := writeGamesDir(t, `
games:
  - name: Snake
    cover: /snake.png
    html_file: snake.html
  - name: Pong
    cover: /pong.png
    html: "<p>pong</p>"
`)

	catalog, err := LoadCatalog(dir)
	require.NoError(t, err)
	tiles, err := catalog.Tiles(dir)
	require.NoError(t, err)
	require.Len(t, tiles, 2)
	assert.Equal(t, Tile{Name: "Snake", Cover: "/snake.png", HTML: "<canvas></canvas>"}, tiles[0])
	assert.Equal(t, "<p>pong</p>", tiles[1].HTML)

	empty, err := LoadCatalog(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, empty.Games)
}

func TestCatalog_RejectsBadEntries(t *testing.T) {
	tests := map[string]string{
		"escaping html_file": "games:\n  - name: x\n    cover: c\n    html_file: ../secret.html\n",
		"missing html":       "games:\n  - name: x\n    cover: c\n",
		"missing html_file":  "games:\n  - name: x\n    cover: c\n    html_file: nope.html\n",
	}
	for name, yaml := range tests {
		t.Run(name, func(t *testing.T) {
			dir := writeGamesDir(t, yaml)
			catalog, err := LoadCatalog(dir)
			require.NoError(t, err)
			_, err = catalog.Tiles(dir)
			assert.Error(t, err)
		})
	}

	dir := writeGamesDir(t, "games: [unclosed")
	_, err := LoadCatalog(dir)
	assert.Error(t, err)
}

func TestHandler(t *testing.T) {
	dir := writeGamesDir(t, "games:\n  - name: Snake\n    cover: /snake.png\n    html_file: snake.html\n")
	h := NewHandler(dir, testLogger())

	get := func(path string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		return rr
	}

	index := get("/")
	assert.Equal(t, http.StatusOK, index.Code)
	assert.Equal(t, "text/html; charset=utf-8", index.Header().Get("Content-Type"))
	assert.Contains(t, index.Body.String(), "<h3 class=\"text-center text-white font-semibold truncate\">Snake</h3>")
	assert.Contains(t, index.Body.String(), "&lt;canvas&gt;&lt;/canvas&gt;")

	cover := get("/snake.png")
	assert.Equal(t, http.StatusOK, cover.Code)
	assert.Equal(t, "nosniff", cover.Header().Get("X-Content-Type-Options"))

	assert.Equal(t, http.StatusNotFound, get("/"+CatalogFile).Code)
	assert.Equal(t, http.StatusNotFound, get("/missing.js").Code)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestHandler_EmptyAndBrokenCatalog(t *testing.T) {
	empty := NewHandler(t.TempDir(), testLogger())
	rr := httptest.NewRecorder()
	empty.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "No games yet.")

	broken := NewHandler(writeGamesDir(t, "games:\n  - name: x\n"), testLogger())
	rr = httptest.NewRecorder()
	broken.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
