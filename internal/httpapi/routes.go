package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/DoyleJ11/lcu-watch/internal/namedb"
	"github.com/DoyleJ11/lcu-watch/internal/state"
)

// NameSource is the slice of the name database the API serves. A nil source
// leaves ids unannotated.
type NameSource interface {
	ChampionName(id int) (string, bool)
	EntriesForChampion(ctx context.Context, id int) []namedb.Entry
}

func SetupRoutes(st *state.Shared, names NameSource) http.Handler {
	r := chi.NewRouter()

	// Read-only observer surface
	r.Get("/healthz", Healthz)
	r.Get("/status", Status(st, names))
	r.Get("/names/{championID}", ChampionNames(names))
	return r
}
