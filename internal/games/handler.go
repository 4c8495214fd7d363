package games

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"
	"path"
	"strings"
)

const indexTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>AnonyChat Games</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; background: #0f172a; color: white; }
        #tiles { display: grid; grid-template-columns: repeat(auto-fill, minmax(180px, 1fr)); gap: 16px; }
        .game-tile { cursor: pointer; border-radius: 12px; overflow: hidden; background: #1e293b; }
        .game-tile img { width: 100%; height: 160px; object-fit: cover; }
        .game-tile h3 { text-align: center; margin: 8px; }
        .hidden { display: none; }
        #player { width: 100%; height: 70vh; border: none; margin-top: 16px; background: white; }
    </style>
</head>
<body>
    <h1>Games</h1>
    {{if .}}<div id="tiles">{{range .}}{{template "tile" .}}{{end}}</div>{{else}}<p>No games yet.</p>{{end}}
    <iframe id="player" class="hidden" sandbox="allow-scripts"></iframe>
    <script>
        document.querySelectorAll('.game-tile').forEach(function(tile) {
            tile.addEventListener('click', function() {
                var player = document.getElementById('player');
                player.srcdoc = tile.querySelector('.game-html').textContent;
                player.classList.remove('hidden');
            });
        });
    </script>
</body>
</html>
`

func init() {
	template.Must(templates.New("index").Parse(indexTemplate))
}

// Handler serves the games index at "/" and the files of the games
// directory everywhere else. The catalog is read on every index request so
// games can be added without a restart.
type Handler struct {
	dir    string
	files  http.Handler
	logger *slog.Logger
}

// NewHandler serves the games directory dir.
func NewHandler(dir string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		dir:    dir,
		files:  http.FileServer(http.Dir(dir)),
		logger: logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clean := path.Clean("/" + r.URL.Path)
	switch {
	case clean == "/" || clean == "/index.html":
		h.serveIndex(w)
	case clean == "/"+CatalogFile || strings.HasSuffix(r.URL.Path, "/"):
		http.NotFound(w, r)
	default:
		w.Header().Set("X-Content-Type-Options", "nosniff")
		h.files.ServeHTTP(w, r)
	}
}

func (h *Handler) serveIndex(w http.ResponseWriter) {
	tiles, err := h.tiles()
	if err != nil {
		h.logger.Error("failed to load games catalog", "dir", h.dir, "error", err)
		http.Error(w, "games catalog unavailable", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "index", tiles); err != nil {
		h.logger.Error("failed to render games index", "error", err)
		http.Error(w, "failed to render games index", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func (h *Handler) tiles() ([]Tile, error) {
	catalog, err := LoadCatalog(h.dir)
	if err != nil {
		return nil, err
	}
	return catalog.Tiles(h.dir)
}
