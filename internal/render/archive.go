package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"chartcore/internal/blob/core"
	"chartcore/pkg/chart"
)

// ErrNoArchive is returned by Latest when a chart has no archived render.
var ErrNoArchive = errors.New("no archived render")

const archivePrefix = "renders"

// Archive keeps an append-only history of successful chart configs in a
// blob store, keyed renders/<parentID>/<chartID>/<unix-nano>.json.
type Archive struct {
	store core.Store
}

// NewArchive wraps store. A nil store yields a nil archive, which callers
// treat as archiving disabled.
func NewArchive(store core.Store) *Archive {
	if store == nil {
		return nil
	}
	return &Archive{store: store}
}

// Key returns the blob key for a render of chartID at time at.
func Key(parentID, chartID string, at time.Time) string {
	return chartPrefix(parentID, chartID) + strconv.FormatInt(at.UnixNano(), 10) + ".json"
}

func chartPrefix(parentID, chartID string) string {
	return strings.Join([]string{archivePrefix, parentID, chartID}, "/") + "/"
}

// Save writes cfg for chartID.
func (a *Archive) Save(ctx context.Context, parentID, chartID string, cfg chart.Config, at time.Time) (core.Info, error) {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return core.Info{}, fmt.Errorf("encode chart config: %w", err)
	}
	return a.store.Put(ctx, Key(parentID, chartID, at), bytes.NewReader(payload), core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"parent_id": parentID, "chart_id": chartID},
	})
}

// History lists archived renders of chartID, oldest first.
func (a *Archive) History(ctx context.Context, parentID, chartID string) ([]core.Info, error) {
	return a.store.List(ctx, chartPrefix(parentID, chartID))
}

// Latest returns the newest archived config of chartID.
func (a *Archive) Latest(ctx context.Context, parentID, chartID string) (chart.Config, core.Info, error) {
	infos, err := a.History(ctx, parentID, chartID)
	if err != nil {
		return nil, core.Info{}, err
	}
	if len(infos) == 0 {
		return nil, core.Info{}, fmt.Errorf("%w: %s/%s", ErrNoArchive, parentID, chartID)
	}
	// Nanosecond stamps keep the same width until 2262, so the lexical last key is the newest.
	latest := infos[len(infos)-1]
	info, rc, err := a.store.Get(ctx, latest.Key)
	if err != nil {
		return nil, core.Info{}, err
	}
	defer rc.Close()
	var cfg chart.Config
	if err := json.NewDecoder(rc).Decode(&cfg); err != nil {
		return nil, core.Info{}, fmt.Errorf("decode %s: %w", latest.Key, err)
	}
	return cfg, info, nil
}
