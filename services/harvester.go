package services

import (
	"context"
	"html"
	"strconv"
	"strings"
	"time"

	"hn-digest/config"
	"hn-digest/models"
	"hn-digest/providers"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Harvester sammelt den vollständigen Kommentarbaum einer Story.
type Harvester struct {
	Feed   providers.FeedSource
	Logger *zap.Logger

	limit       rate.Limit
	parallelism int
	maxDepth    int
	policy      *bluemonday.Policy
}

// NewHarvester erstellt einen Harvester mit Drosselung aus der Konfiguration.
func NewHarvester(feed providers.FeedSource, cfg *config.Config, logger *zap.Logger) *Harvester {
	return newHarvester(feed, cfg.HarvestNodeDelay, cfg.HarvestParallelism, cfg.HarvestMaxDepth, logger)
}

func newHarvester(feed providers.FeedSource, delay time.Duration, parallelism, maxDepth int, logger *zap.Logger) *Harvester {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	if parallelism <= 0 {
		parallelism = 1
	}
	if maxDepth <= 0 {
		maxDepth = 50
	}
	return &Harvester{
		Feed:        feed,
		Logger:      logger,
		limit:       limit,
		parallelism: parallelism,
		maxDepth:    maxDepth,
		policy:      bluemonday.StrictPolicy(),
	}
}

type treeNode struct {
	id     int64
	parent *string
	depth  int
}

// DeletedAuthor ersetzt einen fehlenden Autor.
const DeletedAuthor = "[deleted]"

// HarvestTree durchläuft den Baum ab den Kind-IDs der Story in Breitensuche.
// Fehlgeschlagene, gelöschte, tote oder fremde Knoten werden samt Unterbaum verworfen;
// Geschwister laufen weiter. Bereits besuchte IDs werden nicht erneut geholt.
// Jeder Aufruf hat einen eigenen Limiter, parallele Stories drosseln sich nicht gegenseitig.
func (h *Harvester) HarvestTree(ctx context.Context, rootKids []int64) []models.CommentDTO {
	limiter := rate.NewLimiter(h.limit, 1)
	visited := make(map[int64]struct{}, len(rootKids))
	work := make([]treeNode, 0, len(rootKids))
	for _, id := range rootKids {
		if _, seen := visited[id]; seen {
			continue
		}
		visited[id] = struct{}{}
		work = append(work, treeNode{id: id, depth: 1})
	}

	var out []models.CommentDTO
	dropped := 0
	for len(work) > 0 && ctx.Err() == nil {
		n := min(h.parallelism, len(work))
		batch := work[:n]
		work = work[n:]

		items := h.fetchBatch(ctx, limiter, batch)
		for i, node := range batch {
			item := items[i]
			if item == nil {
				dropped++
				continue
			}
			if item.Gone() || item.Type != "comment" {
				h.Logger.Debug("Knoten verworfen.", zap.Int64("item_id", node.id),
					zap.String("type", item.Type), zap.Bool("deleted", item.Deleted), zap.Bool("dead", item.Dead))
				dropped++
				continue
			}

			id := strconv.FormatInt(item.ID, 10)
			author := item.By
			if author == "" {
				author = DeletedAuthor
			}
			out = append(out, models.CommentDTO{
				ID:       id,
				Author:   author,
				Text:     h.commentText(item.Text),
				ParentID: node.parent,
				Score:    item.Score,
			})

			if node.depth >= h.maxDepth {
				if len(item.Kids) > 0 {
					h.Logger.Warn("Maximale Tiefe erreicht, Antworten werden nicht verfolgt.",
						zap.Int64("item_id", item.ID), zap.Int("depth", node.depth))
				}
				continue
			}
			for _, kid := range item.Kids {
				if _, seen := visited[kid]; seen {
					continue
				}
				visited[kid] = struct{}{}
				work = append(work, treeNode{id: kid, parent: &id, depth: node.depth + 1})
			}
		}
	}

	if dropped > 0 {
		h.Logger.Info("Kommentarbaum mit verworfenen Knoten geerntet.", zap.Int("comments", len(out)), zap.Int("dropped", dropped))
	}
	return out
}

// fetchBatch holt die Knoten eines Batches; nil steht für einen fehlgeschlagenen Abruf.
func (h *Harvester) fetchBatch(ctx context.Context, limiter *rate.Limiter, batch []treeNode) []*models.RawItem {
	items := make([]*models.RawItem, len(batch))
	var g errgroup.Group
	g.SetLimit(h.parallelism)
	for i, node := range batch {
		g.Go(func() error {
			if err := limiter.Wait(ctx); err != nil {
				return nil
			}
			item, err := h.Feed.FetchItem(ctx, node.id)
			if err != nil {
				h.Logger.Warn("Kommentar konnte nicht geladen werden, Unterbaum wird übersprungen.",
					zap.Int64("item_id", node.id), zap.Error(err))
				return nil
			}
			items[i] = item
			return nil
		})
	}
	_ = g.Wait()
	return items
}

// commentText wandelt das HTML eines Kommentars in bereinigten Klartext um.
func (h *Harvester) commentText(raw string) string {
	raw = strings.ReplaceAll(raw, "<p>", "\n\n")
	return CleanText(html.UnescapeString(h.policy.Sanitize(raw)))
}
