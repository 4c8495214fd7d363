// Package games serves the static games site that shares the process with
// the chat relay, and renders the HTML tiles its index page is built from.
package games

import (
	"errors"
	"html/template"
	"io"
	"strings"
)

// ErrIncompleteTile is returned when a tile is missing its name, cover or
// game HTML.
var ErrIncompleteTile = errors.New("tile needs a name, a cover image and game HTML")

// Tile is one game on the index page. HTML is the game's own markup; it is
// carried escaped inside a hidden .game-html element and launched by the
// index page script.
type Tile struct {
	Name  string `yaml:"name"`
	Cover string `yaml:"cover"`
	HTML  string `yaml:"html"`
}

// Validate reports ErrIncompleteTile when a field is blank.
func (t Tile) Validate() error {
	if strings.TrimSpace(t.Name) == "" || strings.TrimSpace(t.Cover) == "" || strings.TrimSpace(t.HTML) == "" {
		return ErrIncompleteTile
	}
	return nil
}

const tileTemplate = `
<div class="game-tile cursor-pointer hover:scale-105 transition transform rounded-xl overflow-hidden shadow-lg bg-slate-900">
  <div class="relative h-40 w-full">
    <img src="{{.Cover}}" alt="{{.Name}}" class="object-cover w-full h-full">
  </div>
  <div class="p-2">
    <h3 class="text-center text-white font-semibold truncate">{{.Name}}</h3>
    <div class="hidden game-html">{{.HTML}}</div>
  </div>
</div>
`

var templates = template.Must(template.New("tile").Parse(tileTemplate))

// RenderTile writes the tile markup for t.
func RenderTile(w io.Writer, t Tile) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return templates.ExecuteTemplate(w, "tile", t)
}

// FileName is the default output file for a tile named name.
func FileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "game.html"
	}
	return strings.ReplaceAll(name, " ", "_") + ".html"
}
