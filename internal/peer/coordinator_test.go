package peer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/pavelmac/faceshare/internal/config"
	"github.com/pavelmac/faceshare/internal/identity"
	"github.com/pavelmac/faceshare/internal/photostore"
	"github.com/pavelmac/faceshare/internal/profile"
)

// fakeChannel records sends and replays scripted events.
type fakeChannel struct {
	mu     sync.Mutex
	events chan Event
	sent   map[string][][]byte
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		events: make(chan Event, 16),
		sent:   make(map[string][][]byte),
	}
}

func (f *fakeChannel) Send(ctx context.Context, peerID string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[peerID] = append(f.sent[peerID], payload)
	return nil
}

func (f *fakeChannel) Broadcast(ctx context.Context, payload []byte) error { return nil }
func (f *fakeChannel) Events() <-chan Event                                { return f.events }
func (f *fakeChannel) Close() error                                        { return nil }

func (f *fakeChannel) sentTo(peerID string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[peerID]
}

// fakeIdentities is a fixed identity set.
type fakeIdentities struct {
	faces []identity.Known
	match *identity.MatchResult
}

func (f *fakeIdentities) KnownFaces() []identity.Known                 { return f.faces }
func (f *fakeIdentities) FindMatch(probe []float32) *identity.MatchResult { return f.match }

// keyScorer scores 0.9 when first elements match, 0.1 otherwise.
type keyScorer struct{}

func (keyScorer) Score(a, b []float32) float64 {
	if len(a) > 0 && len(b) > 0 && a[0] == b[0] {
		return 0.9
	}
	return 0.1
}

// fakeIndex returns fixed neighbors.
type fakeIndex struct{ neighbors []photostore.Neighbor }

func (f *fakeIndex) Search(query []float32, k int) ([]photostore.Neighbor, error) {
	return f.neighbors, nil
}

// fakeHistory records store interactions in memory.
type fakeHistory struct {
	mu       sync.Mutex
	saved    []photostore.Photo
	faces    map[string][]photostore.StoredFace
	sentRecs map[string]bool
	peers    map[string]int
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{
		faces:    make(map[string][]photostore.StoredFace),
		sentRecs: make(map[string]bool),
		peers:    make(map[string]int),
	}
}

func (f *fakeHistory) SavePhoto(ctx context.Context, photo photostore.Photo, faces []photostore.StoredFace) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, photo)
	f.faces[photo.UID] = faces
	return nil
}

func (f *fakeHistory) RecordSent(ctx context.Context, peerName, photoUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentRecs[peerName+"/"+photoUID] = true
	return nil
}

func (f *fakeHistory) WasSent(ctx context.Context, peerName, photoUID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sentRecs[peerName+"/"+photoUID], nil
}

func (f *fakeHistory) UpsertPeer(ctx context.Context, name string, avatar []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peers[name]++
	return nil
}

// fakePhotos serves photo bytes by UID.
type fakePhotos struct{ data map[string][]byte }

func (f *fakePhotos) ReadPhoto(ctx context.Context, uid string) ([]byte, error) {
	return f.data[uid], nil
}

func testProfileStore(t *testing.T, name string, emb []float32) *profile.Store {
	t.Helper()
	store := profile.NewStore(filepath.Join(t.TempDir(), "profile.json"))
	if name != "" {
		if err := store.Save(&profile.Profile{Name: name, Embedding: emb}); err != nil {
			t.Fatalf("save profile: %v", err)
		}
	}
	return store
}

type coordinatorFixture struct {
	channel *fakeChannel
	history *fakeHistory
	coord   *Coordinator
}

func runCoordinator(t *testing.T, c *Coordinator, channel *fakeChannel, events ...Event) {
	t.Helper()
	for _, ev := range events {
		channel.events <- ev
	}
	close(channel.events)

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
}

func newFixture(t *testing.T, identities IdentitySet, index PhotoIndex, photos PhotoReader, profiles *profile.Store, opts Options) *coordinatorFixture {
	t.Helper()
	if identities == nil {
		identities = &fakeIdentities{}
	}
	if index == nil {
		index = &fakeIndex{}
	}
	if photos == nil {
		photos = &fakePhotos{}
	}
	if profiles == nil {
		profiles = testProfileStore(t, "", nil)
	}
	if opts.ReceivedDir == "" {
		opts.ReceivedDir = t.TempDir()
	}

	channel := newFakeChannel()
	history := newFakeHistory()
	coord := NewCoordinator(channel, identities, keyScorer{}, index, history, photos, profiles, nil, nil, opts, nil)
	return &coordinatorFixture{channel: channel, history: history, coord: coord}
}

func TestConnectSendsProfile(t *testing.T) {
	emb := []float32{0.25, -0.5}
	fx := newFixture(t, nil, nil, nil, testProfileStore(t, "Pavel", emb), Options{})

	runCoordinator(t, fx.coord, fx.channel, Event{Type: EventConnected, PeerID: "peer-1", DisplayName: "Alice"})

	sent := fx.channel.sentTo("peer-1")
	if len(sent) != 2 {
		t.Fatalf("expected embedding + profile info, got %d payloads", len(sent))
	}

	var gotEmb []float32
	if err := json.Unmarshal(sent[0], &gotEmb); err != nil {
		t.Fatalf("first payload is not an embedding array: %v", err)
	}
	if len(gotEmb) != 2 || gotEmb[0] != 0.25 {
		t.Errorf("unexpected embedding payload %v", gotEmb)
	}

	var info ProfileInfo
	if err := json.Unmarshal(sent[1], &info); err != nil {
		t.Fatalf("second payload is not profile info: %v", err)
	}
	if info.Name != "Pavel" || info.HasProfileImage {
		t.Errorf("unexpected profile info %+v", info)
	}

	if fx.history.peers["Alice"] == 0 {
		t.Error("expected peer sighting recorded")
	}
}

func TestConnectWithoutProfileSendsNothing(t *testing.T) {
	fx := newFixture(t, nil, nil, nil, nil, Options{})
	runCoordinator(t, fx.coord, fx.channel, Event{Type: EventConnected, PeerID: "peer-1", DisplayName: "Alice"})

	if got := fx.channel.sentTo("peer-1"); len(got) != 0 {
		t.Fatalf("expected no payloads without a profile, got %d", len(got))
	}
}

func TestEmbeddingResolvesContactName(t *testing.T) {
	identities := &fakeIdentities{faces: []identity.Known{
		{ID: uuid.New(), Embedding: []float32{7}, DisplayName: "Marta Novak", Tier: identity.Contact, TrustScore: 0.7},
		{ID: uuid.New(), Embedding: []float32{7}, DisplayName: "me", Tier: identity.SelfProfile, TrustScore: 1.0},
	}}
	fx := newFixture(t, identities, nil, nil, nil, Options{
		Calibration: config.PeerCalibration{ContactMatchThreshold: 0.7, PhotoMatchThreshold: 0.7},
	})

	payload, _ := json.Marshal([]float32{7})
	runCoordinator(t, fx.coord, fx.channel,
		Event{Type: EventConnected, PeerID: "peer-1", DisplayName: "advertised"},
		Event{Type: EventPayload, PeerID: "peer-1", Payload: payload},
	)

	peers := fx.coord.Peers()
	if len(peers) != 1 {
		t.Fatalf("expected 1 peer, got %d", len(peers))
	}
	if peers[0].ResolvedName != "Marta Novak" {
		t.Errorf("expected contact resolution, got %q", peers[0].ResolvedName)
	}
}

func TestEmbeddingFallsBackToAdvertisedName(t *testing.T) {
	fx := newFixture(t, nil, nil, nil, nil, Options{
		Calibration: config.PeerCalibration{ContactMatchThreshold: 0.7, PhotoMatchThreshold: 0.7},
	})

	payload, _ := json.Marshal([]float32{3})
	runCoordinator(t, fx.coord, fx.channel,
		Event{Type: EventConnected, PeerID: "peer-1", DisplayName: "advertised"},
		Event{Type: EventPayload, PeerID: "peer-1", Payload: payload},
	)

	peers := fx.coord.Peers()
	if len(peers) != 1 || peers[0].ResolvedName != "advertised" {
		t.Fatalf("expected advertised-name fallback, got %+v", peers)
	}
}

func TestAutoSendMatchingPhoto(t *testing.T) {
	index := &fakeIndex{neighbors: []photostore.Neighbor{
		{Face: &photostore.StoredFace{ID: 1, PhotoUID: "party", Embedding: []float32{5}}, Similarity: 0.95},
	}}
	photos := &fakePhotos{data: map[string][]byte{"party": []byte("jpeg-bytes")}}

	fx := newFixture(t, nil, index, photos, nil, Options{
		AutoSendPhotos: true,
		Calibration:    config.PeerCalibration{ContactMatchThreshold: 0.7, PhotoMatchThreshold: 0.7},
	})

	payload, _ := json.Marshal([]float32{5})
	runCoordinator(t, fx.coord, fx.channel,
		Event{Type: EventConnected, PeerID: "peer-1", DisplayName: "Alice"},
		Event{Type: EventPayload, PeerID: "peer-1", Payload: payload},
	)

	sent := fx.channel.sentTo("peer-1")
	if len(sent) != 1 || string(sent[0]) != "jpeg-bytes" {
		t.Fatalf("expected the matching photo sent, got %d payloads", len(sent))
	}
	if !fx.history.sentRecs["Alice/party"] {
		t.Error("expected send recorded in history")
	}
}

func TestAutoSendSkipsAlreadySent(t *testing.T) {
	index := &fakeIndex{neighbors: []photostore.Neighbor{
		{Face: &photostore.StoredFace{ID: 1, PhotoUID: "party", Embedding: []float32{5}}, Similarity: 0.95},
	}}
	photos := &fakePhotos{data: map[string][]byte{"party": []byte("jpeg-bytes")}}

	fx := newFixture(t, nil, index, photos, nil, Options{
		AutoSendPhotos: true,
		Calibration:    config.PeerCalibration{ContactMatchThreshold: 0.7, PhotoMatchThreshold: 0.7},
	})
	fx.history.sentRecs["Alice/party"] = true

	payload, _ := json.Marshal([]float32{5})
	runCoordinator(t, fx.coord, fx.channel,
		Event{Type: EventConnected, PeerID: "peer-1", DisplayName: "Alice"},
		Event{Type: EventPayload, PeerID: "peer-1", Payload: payload},
	)

	if sent := fx.channel.sentTo("peer-1"); len(sent) != 0 {
		t.Fatalf("expected no resend of shared photo, got %d payloads", len(sent))
	}
}

func TestAutoSendRespectsThreshold(t *testing.T) {
	// Neighbor present but the full scorer disagrees (different key).
	index := &fakeIndex{neighbors: []photostore.Neighbor{
		{Face: &photostore.StoredFace{ID: 1, PhotoUID: "party", Embedding: []float32{9}}, Similarity: 0.95},
	}}

	fx := newFixture(t, nil, index, nil, nil, Options{
		AutoSendPhotos: true,
		Calibration:    config.PeerCalibration{ContactMatchThreshold: 0.7, PhotoMatchThreshold: 0.7},
	})

	payload, _ := json.Marshal([]float32{5})
	runCoordinator(t, fx.coord, fx.channel,
		Event{Type: EventConnected, PeerID: "peer-1", DisplayName: "Alice"},
		Event{Type: EventPayload, PeerID: "peer-1", Payload: payload},
	)

	if sent := fx.channel.sentTo("peer-1"); len(sent) != 0 {
		t.Fatalf("expected sub-threshold match rejected, got %d payloads", len(sent))
	}
}

func TestAutoSendDisabled(t *testing.T) {
	index := &fakeIndex{neighbors: []photostore.Neighbor{
		{Face: &photostore.StoredFace{ID: 1, PhotoUID: "party", Embedding: []float32{5}}, Similarity: 0.95},
	}}

	fx := newFixture(t, nil, index, nil, nil, Options{
		AutoSendPhotos: false,
		Calibration:    config.PeerCalibration{ContactMatchThreshold: 0.7, PhotoMatchThreshold: 0.7},
	})

	payload, _ := json.Marshal([]float32{5})
	runCoordinator(t, fx.coord, fx.channel,
		Event{Type: EventConnected, PeerID: "peer-1", DisplayName: "Alice"},
		Event{Type: EventPayload, PeerID: "peer-1", Payload: payload},
	)

	if sent := fx.channel.sentTo("peer-1"); len(sent) != 0 {
		t.Fatalf("expected nothing sent with auto-send off, got %d payloads", len(sent))
	}
}

func TestReceivedPhotoStored(t *testing.T) {
	dir := t.TempDir()
	fx := newFixture(t, nil, nil, nil, nil, Options{ReceivedDir: dir})

	photoBytes := []byte{0xFF, 0xD8, 0xFF, 0x01, 0x02}
	runCoordinator(t, fx.coord, fx.channel,
		Event{Type: EventConnected, PeerID: "peer-1", DisplayName: "Alice"},
		Event{Type: EventPayload, PeerID: "peer-1", Payload: photoBytes},
	)

	if len(fx.history.saved) != 1 {
		t.Fatalf("expected 1 stored photo, got %d", len(fx.history.saved))
	}
	stored := fx.history.saved[0]

	data, err := os.ReadFile(stored.Path)
	if err != nil {
		t.Fatalf("expected photo written to disk: %v", err)
	}
	if string(data) != string(photoBytes) {
		t.Error("stored photo bytes differ from payload")
	}

	// No recognition wired: the empty face list is retained.
	if faces := fx.history.faces[stored.UID]; len(faces) != 0 {
		t.Errorf("expected no recognized faces, got %d", len(faces))
	}
}

func TestDisconnectDropsPeer(t *testing.T) {
	fx := newFixture(t, nil, nil, nil, nil, Options{})

	runCoordinator(t, fx.coord, fx.channel,
		Event{Type: EventConnected, PeerID: "peer-1", DisplayName: "Alice"},
		Event{Type: EventDisconnected, PeerID: "peer-1"},
	)

	if peers := fx.coord.Peers(); len(peers) != 0 {
		t.Fatalf("expected peer dropped after disconnect, got %+v", peers)
	}
}

func TestProfileInfoUpdatesPeer(t *testing.T) {
	fx := newFixture(t, nil, nil, nil, nil, Options{
		Calibration: config.PeerCalibration{ContactMatchThreshold: 0.7, PhotoMatchThreshold: 0.7},
	})

	info, _ := json.Marshal(ProfileInfo{Name: "Bob", Embedding: []float32{4}, HasProfileImage: true})
	runCoordinator(t, fx.coord, fx.channel,
		Event{Type: EventConnected, PeerID: "peer-1", DisplayName: "unknown device"},
		Event{Type: EventPayload, PeerID: "peer-1", Payload: info},
	)

	peers := fx.coord.Peers()
	if len(peers) != 1 {
		t.Fatalf("expected 1 peer, got %d", len(peers))
	}
	p := peers[0]
	if p.AdvertisedName != "Bob" || !p.HasProfileImage || len(p.Embedding) != 1 {
		t.Errorf("unexpected peer state %+v", p)
	}
	if fx.history.peers["Bob"] == 0 {
		t.Error("expected profile sighting recorded")
	}
}

func TestClassifyPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    payloadKind
	}{
		{"embedding array", []byte("[0.1, 0.2]"), payloadEmbedding},
		{"embedding with whitespace", []byte("  \n[1]"), payloadEmbedding},
		{"profile object", []byte(`{"name":"x"}`), payloadProfile},
		{"jpeg bytes", []byte{0xFF, 0xD8, 0xFF}, payloadPhoto},
		{"empty", nil, payloadPhoto},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyPayload(tt.payload); got != tt.want {
				t.Errorf("classifyPayload(%q) = %v, want %v", tt.payload, got, tt.want)
			}
		})
	}
}
