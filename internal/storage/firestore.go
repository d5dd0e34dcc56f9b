package storage

import (
	"context"
	"fmt"
	"math"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pauljones0/story-monitor/internal/models"
)

const (
	storyDaysCollection    = "storyDays"
	viewersCollection      = "viewers"
	observationsCollection = "observations"
)

// FirestoreStore implements Store on Cloud Firestore. Document IDs are the
// deterministic model IDs, so uniqueness holds without indexes.
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestore(ctx context.Context, projectID string) (*FirestoreStore, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore.NewClient: %w", err)
	}
	return &FirestoreStore{client: client}, nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

// RunInTx runs fn inside a Firestore transaction. Firestore requires every
// read before the first write, so writes are buffered and flushed after fn
// returns. fn may be re-run on contention.
func (s *FirestoreStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ftx := &firestoreTx{client: s.client, tx: tx, pending: newWriteBuffer()}
		if err := fn(ctx, ftx); err != nil {
			return err
		}
		for _, w := range ftx.pending.writes() {
			if err := tx.Set(w.ref, w.data); err != nil {
				return fmt.Errorf("failed to queue write for %s: %w", w.ref.Path, err)
			}
		}
		return nil
	})
}

func (s *FirestoreStore) RecentStoryDays(ctx context.Context, accountID string, n int) ([]models.StoryDay, error) {
	iter := s.client.Collection(storyDaysCollection).
		Where("accountID", "==", accountID).
		OrderBy("storyDate", firestore.Desc).
		Limit(n).
		Documents(ctx)
	defer iter.Stop()

	var days []models.StoryDay
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate story days for %s: %w", accountID, err)
		}
		var day models.StoryDay
		if err := doc.DataTo(&day); err != nil {
			return nil, fmt.Errorf("failed to unmarshal story day %s: %w", doc.Ref.ID, err)
		}
		day.ID = doc.Ref.ID
		days = append(days, day)
	}
	return days, nil
}

func (s *FirestoreStore) TopViewers(ctx context.Context, accountID string, n int) ([]models.ViewerProfile, error) {
	iter := s.client.Collection(viewersCollection).
		Where("accountID", "==", accountID).
		OrderBy("totalViews", firestore.Desc).
		OrderBy("totalLikes", firestore.Desc).
		OrderBy("handle", firestore.Asc).
		Limit(n).
		Documents(ctx)
	defer iter.Stop()

	var viewers []models.ViewerProfile
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate viewers for %s: %w", accountID, err)
		}
		var v models.ViewerProfile
		if err := doc.DataTo(&v); err != nil {
			return nil, fmt.Errorf("failed to unmarshal viewer %s: %w", doc.Ref.ID, err)
		}
		v.ID = doc.Ref.ID
		viewers = append(viewers, v)
	}
	return viewers, nil
}

func (s *FirestoreStore) Summary(ctx context.Context, accountID string) (models.Summary, error) {
	dayQuery := s.client.Collection(storyDaysCollection).Where("accountID", "==", accountID)
	days, err := dayQuery.NewAggregationQuery().
		WithCount("stories").
		WithSum("totalViews", "views").
		WithSum("totalLikes", "likes").
		Get(ctx)
	if err != nil {
		return models.Summary{}, fmt.Errorf("failed to aggregate story days for %s: %w", accountID, err)
	}
	viewerQuery := s.client.Collection(viewersCollection).Where("accountID", "==", accountID)
	viewers, err := viewerQuery.NewAggregationQuery().
		WithCount("viewers").
		Get(ctx)
	if err != nil {
		return models.Summary{}, fmt.Errorf("failed to count viewers for %s: %w", accountID, err)
	}

	var sum models.Summary
	for _, f := range []struct {
		result firestore.AggregationResult
		alias  string
		dst    *int
	}{
		{days, "stories", &sum.Stories},
		{days, "views", &sum.TotalViews},
		{days, "likes", &sum.TotalLikes},
		{viewers, "viewers", &sum.UniqueViewers},
	} {
		v, err := aggregateInt(f.result, f.alias)
		if err != nil {
			return models.Summary{}, err
		}
		*f.dst = v
	}
	return sum, nil
}

// aggregateInt reads an aggregation alias. Counts arrive as integers; sums
// may arrive as doubles.
func aggregateInt(result firestore.AggregationResult, alias string) (int, error) {
	raw, ok := result[alias]
	if !ok {
		return 0, fmt.Errorf("aggregation result was invalid: '%s' key missing", alias)
	}
	switch val := raw.(type) {
	case int64:
		return int(val), nil
	case float64:
		return int(math.Round(val)), nil
	case *firestorepb.Value:
		if _, isDouble := val.GetValueType().(*firestorepb.Value_DoubleValue); isDouble {
			return int(math.Round(val.GetDoubleValue())), nil
		}
		return int(val.GetIntegerValue()), nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("aggregation result '%s' has unexpected type %T", alias, raw)
	}
}

func observationDocID(storyDayID, viewerID string) string {
	return storyDayID + "_" + viewerID
}

type pendingWrite struct {
	ref  *firestore.DocumentRef
	data any
}

// writeBuffer holds a transaction's writes in first-write order, keyed by
// document path so later reads within the transaction see them.
type writeBuffer struct {
	order []string
	byKey map[string]pendingWrite
}

func newWriteBuffer() *writeBuffer {
	return &writeBuffer{byKey: make(map[string]pendingWrite)}
}

func (b *writeBuffer) put(key string, w pendingWrite) {
	if _, ok := b.byKey[key]; !ok {
		b.order = append(b.order, key)
	}
	b.byKey[key] = w
}

func (b *writeBuffer) get(key string) (any, bool) {
	w, ok := b.byKey[key]
	return w.data, ok
}

func (b *writeBuffer) writes() []pendingWrite {
	out := make([]pendingWrite, 0, len(b.order))
	for _, k := range b.order {
		out = append(out, b.byKey[k])
	}
	return out
}

// observations returns the buffered observations of one story day keyed by
// viewer ID.
func (b *writeBuffer) observations(storyDayID string) map[string]models.Observation {
	out := make(map[string]models.Observation)
	for _, w := range b.byKey {
		if obs, ok := w.data.(models.Observation); ok && obs.StoryDayID == storyDayID {
			out[obs.ViewerID] = obs
		}
	}
	return out
}

type firestoreTx struct {
	client  *firestore.Client
	tx      *firestore.Transaction
	pending *writeBuffer
}

// get reads a document through the transaction. A missing document yields
// a nil snapshot and no error.
func (t *firestoreTx) get(ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
	doc, err := t.tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, err
	}
	if !doc.Exists() {
		return nil, nil
	}
	return doc, nil
}

func (t *firestoreTx) StoryDay(_ context.Context, accountID, date string) (*models.StoryDay, error) {
	ref := t.client.Collection(storyDaysCollection).Doc(models.StoryDayID(accountID, date))
	if data, ok := t.pending.get(ref.Path); ok {
		day := data.(models.StoryDay)
		return &day, nil
	}

	doc, err := t.get(ref)
	if err != nil {
		return nil, fmt.Errorf("failed to get story day %s/%s: %w", accountID, date, err)
	}
	if doc == nil {
		return nil, nil
	}
	var day models.StoryDay
	if err := doc.DataTo(&day); err != nil {
		return nil, fmt.Errorf("failed to unmarshal story day data: %w", err)
	}
	day.ID = doc.Ref.ID
	return &day, nil
}

func (t *firestoreTx) SaveStoryDay(_ context.Context, day *models.StoryDay) error {
	ref := t.client.Collection(storyDaysCollection).Doc(day.ID)
	t.pending.put(ref.Path, pendingWrite{ref: ref, data: *day})
	return nil
}

func (t *firestoreTx) Viewer(_ context.Context, accountID, handle string) (*models.ViewerProfile, error) {
	ref := t.client.Collection(viewersCollection).Doc(models.ViewerID(accountID, handle))
	if data, ok := t.pending.get(ref.Path); ok {
		v := data.(models.ViewerProfile)
		return &v, nil
	}

	doc, err := t.get(ref)
	if err != nil {
		return nil, fmt.Errorf("failed to get viewer %s/%s: %w", accountID, handle, err)
	}
	if doc == nil {
		return nil, nil
	}
	var v models.ViewerProfile
	if err := doc.DataTo(&v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal viewer data: %w", err)
	}
	v.ID = doc.Ref.ID
	return &v, nil
}

func (t *firestoreTx) SaveViewer(_ context.Context, v *models.ViewerProfile) error {
	ref := t.client.Collection(viewersCollection).Doc(v.ID)
	t.pending.put(ref.Path, pendingWrite{ref: ref, data: *v})
	return nil
}

func (t *firestoreTx) Observation(_ context.Context, storyDayID, viewerID string) (*models.Observation, error) {
	ref := t.client.Collection(observationsCollection).Doc(observationDocID(storyDayID, viewerID))
	if data, ok := t.pending.get(ref.Path); ok {
		obs := data.(models.Observation)
		return &obs, nil
	}

	doc, err := t.get(ref)
	if err != nil {
		return nil, fmt.Errorf("failed to get observation %s/%s: %w", storyDayID, viewerID, err)
	}
	if doc == nil {
		return nil, nil
	}
	var obs models.Observation
	if err := doc.DataTo(&obs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal observation data: %w", err)
	}
	return &obs, nil
}

func (t *firestoreTx) SaveObservation(_ context.Context, obs *models.Observation) error {
	ref := t.client.Collection(observationsCollection).Doc(observationDocID(obs.StoryDayID, obs.ViewerID))
	t.pending.put(ref.Path, pendingWrite{ref: ref, data: *obs})
	return nil
}

func (t *firestoreTx) CountObservations(_ context.Context, storyDayID string) (int, int, error) {
	var committed []models.Observation

	iter := t.tx.Documents(t.client.Collection(observationsCollection).Where("storyDayID", "==", storyDayID))
	defer iter.Stop()
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return 0, 0, fmt.Errorf("failed to iterate observations for %s: %w", storyDayID, err)
		}
		var obs models.Observation
		if err := doc.DataTo(&obs); err != nil {
			return 0, 0, fmt.Errorf("failed to unmarshal observation %s: %w", doc.Ref.ID, err)
		}
		committed = append(committed, obs)
	}

	views, likes := tally(mergeObservations(committed, t.pending.observations(storyDayID)))
	return views, likes, nil
}

// mergeObservations overlays this transaction's pending observations on the
// committed ones, keyed by viewer.
func mergeObservations(committed []models.Observation, pending map[string]models.Observation) map[string]models.Observation {
	merged := make(map[string]models.Observation, len(committed)+len(pending))
	for _, obs := range committed {
		merged[obs.ViewerID] = obs
	}
	for id, obs := range pending {
		merged[id] = obs
	}
	return merged
}

func tally(observations map[string]models.Observation) (views, likes int) {
	for _, obs := range observations {
		if obs.Viewed {
			views++
		}
		if obs.Liked {
			likes++
		}
	}
	return views, likes
}
