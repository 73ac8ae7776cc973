package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pavelmac/faceshare/internal/config"
	"github.com/pavelmac/faceshare/internal/detect"
	"github.com/pavelmac/faceshare/internal/embedding"
	"github.com/pavelmac/faceshare/internal/identity"
	"github.com/pavelmac/faceshare/internal/photostore"
	"github.com/pavelmac/faceshare/internal/profile"
)

// IdentitySet is the slice of the registry the coordinator needs.
type IdentitySet interface {
	KnownFaces() []identity.Known
	FindMatch(probe []float32) *identity.MatchResult
}

// Scorer computes raw similarity between two embeddings in [0, 1].
type Scorer interface {
	Score(a, b []float32) float64
}

// PhotoIndex answers nearest-face queries over the scanned library.
type PhotoIndex interface {
	Search(query []float32, k int) ([]photostore.Neighbor, error)
}

// History is the slice of the photo store the coordinator needs.
type History interface {
	SavePhoto(ctx context.Context, photo photostore.Photo, faces []photostore.StoredFace) error
	RecordSent(ctx context.Context, peerName, photoUID string) error
	WasSent(ctx context.Context, peerName, photoUID string) (bool, error)
	UpsertPeer(ctx context.Context, name string, avatar []byte) error
}

// PhotoReader loads raw photo bytes by UID.
type PhotoReader interface {
	ReadPhoto(ctx context.Context, uid string) ([]byte, error)
}

// photoMatchCandidates is how many index hits are rescored with the full
// scorer before picking a photo to send.
const photoMatchCandidates = 10

// Options configure a coordinator.
type Options struct {
	DisplayName    string
	AutoSendPhotos bool
	ReceivedDir    string
	Calibration    config.PeerCalibration
}

// Coordinator runs the exchange protocol: it advertises the local
// profile, matches incoming embeddings against the photo library, and
// records photos received from peers.
type Coordinator struct {
	channel    Channel
	identities IdentitySet
	scorer     Scorer
	index      PhotoIndex
	store      History
	photos     PhotoReader
	profiles   *profile.Store
	detector   detect.Detector
	extractor  *embedding.Extractor
	opts       Options
	log        *zap.Logger

	mu    sync.RWMutex
	peers map[string]*Peer
}

// NewCoordinator wires a coordinator. Detector and extractor may be nil;
// received photos are then stored without face recognition.
func NewCoordinator(
	channel Channel,
	identities IdentitySet,
	scorer Scorer,
	index PhotoIndex,
	store History,
	photos PhotoReader,
	profiles *profile.Store,
	detector detect.Detector,
	extractor *embedding.Extractor,
	opts Options,
	log *zap.Logger,
) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		channel:    channel,
		identities: identities,
		scorer:     scorer,
		index:      index,
		store:      store,
		photos:     photos,
		profiles:   profiles,
		detector:   detector,
		extractor:  extractor,
		opts:       opts,
		log:        log,
	}
}

// Run consumes channel events until the context is cancelled or the
// channel closes. Handler failures are logged and never stop the loop.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	c.peers = make(map[string]*Peer)
	c.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-c.channel.Events():
			if !ok {
				return nil
			}
			c.handle(ctx, ev)
		}
	}
}

// Peers returns a snapshot of currently connected peers.
func (c *Coordinator) Peers() []Peer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Peer, 0, len(c.peers))
	for _, p := range c.peers {
		out = append(out, *p)
	}
	return out
}

func (c *Coordinator) handle(ctx context.Context, ev Event) {
	switch ev.Type {
	case EventConnected:
		c.handleConnect(ctx, ev)
	case EventDisconnected:
		c.handleDisconnect(ev)
	case EventPayload:
		c.handlePayload(ctx, ev)
	}
}

func (c *Coordinator) handleConnect(ctx context.Context, ev Event) {
	c.mu.Lock()
	c.peers[ev.PeerID] = &Peer{
		ID:             ev.PeerID,
		AdvertisedName: ev.DisplayName,
		ResolvedName:   ev.DisplayName,
		ConnectedAt:    time.Now().UTC(),
	}
	c.mu.Unlock()

	c.log.Info("peer connected",
		zap.String("peer", ev.PeerID),
		zap.String("name", ev.DisplayName))

	if err := c.store.UpsertPeer(ctx, ev.DisplayName, nil); err != nil {
		c.log.Warn("failed to record peer", zap.Error(err))
	}

	c.sendProfile(ctx, ev.PeerID)
}

// sendProfile shares the local identity with a newly-connected peer:
// the bare embedding, the profile card, and the avatar bytes when one
// exists. Send failures are logged and leave local state untouched.
func (c *Coordinator) sendProfile(ctx context.Context, peerID string) {
	p, err := c.profiles.Load()
	if errors.Is(err, profile.ErrNotFound) {
		return
	}
	if err != nil {
		c.log.Warn("failed to load profile", zap.Error(err))
		return
	}

	embPayload, err := json.Marshal(p.Embedding)
	if err != nil {
		c.log.Warn("failed to encode embedding", zap.Error(err))
		return
	}
	if err := c.channel.Send(ctx, peerID, embPayload); err != nil {
		c.log.Warn("failed to send embedding", zap.String("peer", peerID), zap.Error(err))
	}

	var avatar []byte
	if p.ImagePath != "" {
		avatar, err = os.ReadFile(p.ImagePath)
		if err != nil {
			c.log.Warn("failed to read profile image", zap.Error(err))
			avatar = nil
		}
	}

	name := p.Name
	if c.opts.DisplayName != "" {
		name = c.opts.DisplayName
	}
	infoPayload, err := json.Marshal(ProfileInfo{
		Name:            name,
		Embedding:       p.Embedding,
		HasProfileImage: len(avatar) > 0,
	})
	if err != nil {
		c.log.Warn("failed to encode profile info", zap.Error(err))
		return
	}
	if err := c.channel.Send(ctx, peerID, infoPayload); err != nil {
		c.log.Warn("failed to send profile info", zap.String("peer", peerID), zap.Error(err))
	}

	if len(avatar) > 0 {
		if err := c.channel.Send(ctx, peerID, avatar); err != nil {
			c.log.Warn("failed to send avatar", zap.String("peer", peerID), zap.Error(err))
		}
	}
}

func (c *Coordinator) handleDisconnect(ev Event) {
	c.mu.Lock()
	delete(c.peers, ev.PeerID)
	c.mu.Unlock()
	c.log.Info("peer disconnected", zap.String("peer", ev.PeerID))
}

func (c *Coordinator) handlePayload(ctx context.Context, ev Event) {
	switch classifyPayload(ev.Payload) {
	case payloadEmbedding:
		emb, err := decodeEmbedding(ev.Payload)
		if err != nil {
			c.log.Warn("malformed embedding payload", zap.String("peer", ev.PeerID), zap.Error(err))
			return
		}
		c.handleEmbedding(ctx, ev.PeerID, emb)
	case payloadProfile:
		info, err := decodeProfile(ev.Payload)
		if err != nil {
			c.log.Warn("malformed profile payload", zap.String("peer", ev.PeerID), zap.Error(err))
			return
		}
		c.handleProfileInfo(ctx, ev.PeerID, info)
	case payloadPhoto:
		c.handlePhoto(ctx, ev.PeerID, ev.Payload)
	}
}

// handleEmbedding reacts to a peer's face embedding: resolve who they
// are from Contact-tier identities, then offer back a library photo of
// them when auto-send is on.
func (c *Coordinator) handleEmbedding(ctx context.Context, peerID string, emb []float32) {
	c.mu.Lock()
	p, ok := c.peers[peerID]
	if !ok {
		p = &Peer{ID: peerID, ConnectedAt: time.Now().UTC()}
		c.peers[peerID] = p
	}
	p.Embedding = emb
	advertised := p.AdvertisedName
	c.mu.Unlock()

	resolved := c.resolveContact(emb)
	if resolved == "" {
		resolved = advertised
	}

	c.mu.Lock()
	if p, ok := c.peers[peerID]; ok {
		p.ResolvedName = resolved
	}
	c.mu.Unlock()

	if c.opts.AutoSendPhotos {
		c.offerMatchingPhoto(ctx, peerID, resolved, emb)
	}
}

// resolveContact finds the Contact-tier identity best matching the
// embedding, empty when none clears the contact threshold.
func (c *Coordinator) resolveContact(emb []float32) string {
	var bestName string
	var bestScore float64
	for _, known := range c.identities.KnownFaces() {
		if known.Tier != identity.Contact {
			continue
		}
		score := c.scorer.Score(emb, known.Embedding)
		if score >= c.opts.Calibration.ContactMatchThreshold && score > bestScore {
			bestName = known.DisplayName
			bestScore = score
		}
	}
	return bestName
}

// offerMatchingPhoto searches the library for a photo of the person
// behind the embedding and sends the best unsent one.
func (c *Coordinator) offerMatchingPhoto(ctx context.Context, peerID, peerName string, emb []float32) {
	neighbors, err := c.index.Search(emb, photoMatchCandidates)
	if err != nil {
		c.log.Warn("photo index search failed", zap.Error(err))
		return
	}

	for _, n := range neighbors {
		// The index prefilters by cosine distance; confirm with the
		// full scorer before sharing anything.
		if c.scorer.Score(emb, n.Face.Embedding) <= c.opts.Calibration.PhotoMatchThreshold {
			continue
		}

		sent, err := c.store.WasSent(ctx, peerName, n.Face.PhotoUID)
		if err != nil {
			c.log.Warn("failed to check send history", zap.Error(err))
			return
		}
		if sent {
			continue
		}

		data, err := c.photos.ReadPhoto(ctx, n.Face.PhotoUID)
		if err != nil {
			c.log.Warn("failed to read matched photo",
				zap.String("uid", n.Face.PhotoUID), zap.Error(err))
			continue
		}

		if err := c.channel.Send(ctx, peerID, data); err != nil {
			c.log.Warn("failed to send photo",
				zap.String("peer", peerID),
				zap.String("uid", n.Face.PhotoUID),
				zap.Error(err))
			return
		}

		if err := c.store.RecordSent(ctx, peerName, n.Face.PhotoUID); err != nil {
			c.log.Warn("failed to record sent photo", zap.Error(err))
		}

		c.log.Info("sent matching photo",
			zap.String("peer", peerName),
			zap.String("uid", n.Face.PhotoUID))
		return
	}
}

func (c *Coordinator) handleProfileInfo(ctx context.Context, peerID string, info *ProfileInfo) {
	c.mu.Lock()
	p, ok := c.peers[peerID]
	if !ok {
		p = &Peer{ID: peerID, ConnectedAt: time.Now().UTC()}
		c.peers[peerID] = p
	}
	p.AdvertisedName = info.Name
	if p.ResolvedName == "" {
		p.ResolvedName = info.Name
	}
	p.HasProfileImage = info.HasProfileImage
	if len(info.Embedding) > 0 {
		p.Embedding = info.Embedding
	}
	c.mu.Unlock()

	if err := c.store.UpsertPeer(ctx, info.Name, nil); err != nil {
		c.log.Warn("failed to record peer profile", zap.Error(err))
	}

	if len(info.Embedding) > 0 {
		c.handleEmbedding(ctx, peerID, info.Embedding)
	}
}

// handlePhoto stores a photo received from a peer, tagged with the
// sender and whatever faces could be recognized. An empty recognition
// result is stored as-is.
func (c *Coordinator) handlePhoto(ctx context.Context, peerID string, data []byte) {
	c.mu.RLock()
	sender := peerID
	if p, ok := c.peers[peerID]; ok && p.ResolvedName != "" {
		sender = p.ResolvedName
	}
	c.mu.RUnlock()

	uid := uuid.New().String()
	path := filepath.Join(c.opts.ReceivedDir, uid+".jpg")
	if err := os.MkdirAll(c.opts.ReceivedDir, 0o755); err != nil {
		c.log.Warn("failed to create received dir", zap.Error(err))
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		c.log.Warn("failed to write received photo", zap.Error(err))
		return
	}

	faces := c.recognizeFaces(ctx, uid, data)

	photo := photostore.Photo{UID: uid, Path: path, TakenAt: time.Now().UTC()}
	if err := c.store.SavePhoto(ctx, photo, faces); err != nil {
		c.log.Warn("failed to store received photo", zap.Error(err))
		return
	}

	c.log.Info("received photo",
		zap.String("peer", sender),
		zap.String("uid", uid),
		zap.Int("recognized_faces", len(faces)))
}

// recognizeFaces runs detection and matching over a received photo.
// Returns nil when recognition is unavailable or nothing was found.
func (c *Coordinator) recognizeFaces(ctx context.Context, photoUID string, data []byte) []photostore.StoredFace {
	if c.detector == nil || c.extractor == nil {
		return nil
	}

	detections, err := c.detector.DetectFaces(ctx, data)
	if err != nil {
		c.log.Warn("detection on received photo failed", zap.Error(err))
		return nil
	}
	if len(detections) == 0 {
		return nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		c.log.Warn("failed to decode received photo", zap.Error(err))
		return nil
	}

	var faces []photostore.StoredFace
	for i, d := range detections {
		crop, err := detect.CropFace(img, d.BBox)
		if err != nil {
			continue
		}
		emb, err := c.extractor.Extract(ctx, crop)
		if err != nil {
			continue
		}

		face := photostore.StoredFace{
			PhotoUID:  photoUID,
			FaceIndex: i,
			Embedding: emb,
			BBox:      []float64{d.BBox.X, d.BBox.Y, d.BBox.Width, d.BBox.Height},
			DetScore:  d.Score,
		}
		if m := c.identities.FindMatch(emb); m != nil {
			face.PersonName = m.DisplayName
		}
		faces = append(faces, face)
	}
	return faces
}

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventPayload:
		return "payload"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}
