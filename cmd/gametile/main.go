// Command gametile renders one game tile for the games site from a game name,
// a cover image and the game's HTML file.
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/Tyrowin/anonychat/internal/games"
)

func main() {
	name := flag.String("name", "", "game name")
	cover := flag.String("cover", "", "cover image path or URL")
	htmlFile := flag.String("html", "", "file holding the game HTML")
	out := flag.String("out", "", "output file (default: <name>.html with spaces replaced)")
	flag.Parse()

	if err := run(*name, *cover, *htmlFile, *out); err != nil {
		slog.Error("failed to generate game tile", "error", err)
		os.Exit(1)
	}
}

func run(name, cover, htmlFile, out string) error {
	if name == "" || cover == "" || htmlFile == "" {
		return errors.New("-name, -cover and -html are required")
	}

	markup, err := os.ReadFile(htmlFile)
	if err != nil {
		return fmt.Errorf("read game HTML: %w", err)
	}

	var buf bytes.Buffer
	if err := games.RenderTile(&buf, games.Tile{Name: name, Cover: cover, HTML: string(markup)}); err != nil {
		return err
	}

	if out == "" {
		out = games.FileName(name)
	}
	if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write tile: %w", err)
	}
	slog.Info("game tile saved", "file", out)
	return nil
}
