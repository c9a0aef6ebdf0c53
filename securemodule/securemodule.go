// Package securemodule implements the trusted side of the DRM protocol: the
// single-threaded cooperative state machine that owns the long-term key,
// the provisioned tables, and every drm_state transition. It is the only
// package that calls channel.DRMStateWriter.SetState; the host process holds
// the writer to load request payloads and pass it into Dispatch, and the
// pipeline uses it only to flip buffer_offset.
package securemodule

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/mipod/audiodrm/aead"
	"github.com/mipod/audiodrm/channel"
	"github.com/mipod/audiodrm/drmerrors"
	"github.com/mipod/audiodrm/internal/logger"
	"github.com/mipod/audiodrm/internal/metrics"
	"github.com/mipod/audiodrm/metadata"
	"github.com/mipod/audiodrm/pipeline"
	"github.com/mipod/audiodrm/policy"
	"github.com/mipod/audiodrm/provision"
)

// Session is the currently logged-in user, if any.
type Session struct {
	LoggedIn bool
	UID      uint32
	Username string
}

// playbackSession tracks one PLAY_SONG/DIGITAL_OUT session from the moment
// it is opened (WAITING_FILE_HEADER) until STOP or EOF returns the module
// to STOPPED. pipeline is nil until READ_METADATA completes, since the
// chunk geometry and policy verdict it depends on aren't known before then.
type playbackSession struct {
	digitalOut bool
	sink       pipeline.AudioSink
	pipeline   *pipeline.Pipeline
}

// StateMachine is the secure module's cooperative single-threaded
// dispatcher. One command runs to completion before the next is accepted;
// long-running playback yields at the suspension points spec.md's
// concurrency model names (PAUSED, WAITING_CHUNK): Dispatch returns with
// drm_state in one of those states, and each READ_CHUNK drains one half of
// the ring through pipeline.RunHalf.
type StateMachine struct {
	mu      sync.Mutex
	device  *provision.DeviceSecrets
	session Session
	log     logger.Logger

	// currentSong is populated by readMetadata and consulted by policy
	// decisions and the share path; it is nil outside an active file
	// operation.
	currentSong *metadata.SongMD
	checksum    [32]byte

	// pendingSink is set by SetSink ahead of posting PLAY_SONG/DIGITAL_OUT
	// and consumed into playback.sink once that command is dispatched. The
	// host owns sink construction (it knows whether this is a real audio
	// device or a digital-out capture buffer); the secure module only
	// drives it.
	pendingSink pipeline.AudioSink
	playback    *playbackSession
}

// New constructs a StateMachine bound to a device's provisioned secrets.
func New(device *provision.DeviceSecrets) *StateMachine {
	return &StateMachine{
		device: device,
		log:    logger.GetDefaultLogger(),
	}
}

// SetSink registers the AudioSink the next PLAY_SONG/DIGITAL_OUT should
// stream into. Callers post it before PostCommand(CmdPlaySong/CmdDigitalOut)
// so Dispatch has it in hand the moment the session opens.
func (sm *StateMachine) SetSink(sink pipeline.AudioSink) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.pendingSink = sink
}

// Dispatch runs one command to completion against ch, using writer to
// advance drm_state and publish results. It is the sole entry point the
// host's command loop calls. It implements spec.md §4.2's transition
// table: most commands return to STOPPED, but PLAY_SONG/DIGITAL_OUT and
// everything inside an open playback session (READ_HEADER, READ_METADATA,
// READ_CHUNK, PAUSE, PLAY, RESTART) land in their own named state instead,
// and only STOP or a fatal error forces STOPPED early.
func (sm *StateMachine) Dispatch(cmd channel.Command, ch *channel.Channel, writer *channel.DRMStateWriter) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	// Every dispatched command gets its own correlation ID so a multi-line
	// transaction (a share's reject/rewrite, a play session's chunk
	// failures) can be grep'd as one unit in the structured logs. The ID
	// never crosses the channel itself; the protocol has no field for it.
	txnLog := sm.log.WithContext(logger.WithTxnID(context.Background(), uuid.NewString()))

	writer.SetState(channel.Working)

	terminal := channel.Stopped
	var err error

	switch cmd {
	case channel.CmdLogin:
		err = sm.login(ch, writer)
	case channel.CmdLogout:
		sm.logout(writer)
	case channel.CmdEncShare:
		err = sm.share(ch, writer)
	case channel.CmdQueryPlayer:
		err = sm.queryPlayer(writer)
	case channel.CmdQueryEncSong:
		err = sm.queryEncSong(ch, writer)

	case channel.CmdPlaySong, channel.CmdDigitalOut:
		sm.playback = &playbackSession{digitalOut: cmd == channel.CmdDigitalOut, sink: sm.pendingSink}
		sm.pendingSink = nil
		metrics.PlaybackSessionsActive.Inc()
		terminal = channel.WaitingFileHeader

	case channel.CmdReadHeader:
		err = sm.readHeader(ch, writer)
		if err == nil && sm.playback != nil {
			terminal = channel.WaitingMetadata
		}

	case channel.CmdReadMetadata:
		err = sm.readMetadata(ch, writer)
		if err == nil && sm.playback != nil {
			sm.playback.pipeline = pipeline.New(ch, writer, sm.playback.sink, sm.device.DeviceKey[:],
				sm.ChunkAAD(), sm.playbackEnforcePreview(), policy.PreviewBytes)
			metrics.PlaybackVerdicts.WithLabelValues(verdictLabel(sm.Decide())).Inc()
			terminal = channel.WaitingChunk
		}

	case channel.CmdReadChunk:
		writer.SetState(channel.ReadingChunk)
		var eof bool
		eof, err = sm.readChunk()
		switch {
		case err != nil:
			// decryptNext has already recorded the closure reason
			// ("tampered"); just drop the session without double-counting.
			sm.clearPlayback()
		case eof:
			sm.endPlayback("eof")
			terminal = channel.Stopped
		default:
			terminal = channel.WaitingChunk
		}

	case channel.CmdPause:
		if sm.playback != nil {
			terminal = channel.Paused
		}

	case channel.CmdPlay:
		if sm.playback != nil {
			terminal = channel.WaitingChunk
		}

	case channel.CmdRestart:
		if sm.playback != nil {
			// The host re-opens the file from the start; this module only
			// needs to forget the geometry/pipeline the prior pass derived
			// so READ_HEADER rebuilds it.
			sm.playback.pipeline = nil
			terminal = channel.WaitingFileHeader
		}

	case channel.CmdStop:
		sm.endPlayback("stop")

	case channel.CmdWaitForChunk:
		// Observed by the host between half-refills; the secure module has
		// nothing to do here beyond remaining in its current state.
		if sm.playback != nil {
			terminal = channel.WaitingChunk
		}

	default:
		// Unknown/unhandled commands in this dispatcher's scope are a
		// protocol violation: per spec.md §7 the module silently ignores
		// them rather than surfacing an error to the host.
		txnLog.Warn("ignoring command outside dispatcher scope", logger.Uint32("cmd", uint32(cmd)))
	}

	if err != nil {
		txnLog.Warn("command failed", logger.Uint32("cmd", uint32(cmd)), logger.Error(err))
		sm.endPlayback("error")
		terminal = channel.Stopped
	}

	writer.SetState(terminal)
	return err
}

func verdictLabel(v policy.Verdict) string {
	switch v {
	case policy.Full:
		return "full"
	case policy.Preview:
		return "preview"
	default:
		return "denied"
	}
}

// endPlayback closes the current playback session, if any, and records why
// it closed. Idempotent: calling it with no open session is a no-op.
func (sm *StateMachine) endPlayback(reason string) {
	if sm.playback == nil {
		return
	}
	sm.clearPlayback()
	metrics.PlaybackSessionsClosed.WithLabelValues(reason).Inc()
}

// clearPlayback drops the current playback session without recording a
// closure reason, for callers (decryptNext's tamper path) that already
// recorded one of their own.
func (sm *StateMachine) clearPlayback() {
	if sm.playback == nil {
		return
	}
	sm.playback = nil
	metrics.PlaybackSessionsActive.Dec()
}

// playbackEnforcePreview reports whether the open session should cap
// output at policy.PreviewBytes: DIGITAL_OUT never enforces it regardless
// of verdict (spec.md §9), PLAY_SONG does unless the verdict is Full.
func (sm *StateMachine) playbackEnforcePreview() bool {
	return !sm.playback.digitalOut && sm.Decide() != policy.Full
}

// readChunk drains one half of the chunk ring through the open session's
// pipeline. Called only while drm_state is about to become WAITING_CHUNK
// or READING_CHUNK; Dispatch rejects READ_CHUNK outside an open session.
func (sm *StateMachine) readChunk() (eof bool, err error) {
	if sm.playback == nil || sm.playback.pipeline == nil {
		return false, drmerrors.Wrap(drmerrors.ErrProtocolViolation, "READ_CHUNK outside an active playback session")
	}
	return sm.playback.pipeline.RunHalf()
}

// login implements LOGIN: constant-time pin verification against the
// stored hash, rejecting a second login while one is already active.
func (sm *StateMachine) login(ch *channel.Channel, writer *channel.DRMStateWriter) error {
	if sm.session.LoggedIn {
		metrics.LoginAttempts.WithLabelValues("already_logged_in").Inc()
		return drmerrors.Wrap(drmerrors.ErrAuthorization, "a session is already active")
	}

	username := ch.Username()
	pin := ch.Pin()

	uid, ok := sm.device.UIDForUsername(username)
	if ok {
		salt, _ := sm.device.Salt(uid)
		want, _ := sm.device.HashedPin(uid)
		got := sha256.Sum256(append([]byte(pin), salt...))
		if subtle.ConstantTimeCompare(got[:], want) == 1 {
			sm.session = Session{LoggedIn: true, UID: uid, Username: username}
			writer.SetLoginStatus(true)
			metrics.LoginAttempts.WithLabelValues("success").Inc()
			return nil
		}
	}

	// Failure path: zeroize the channel's username/pin fields, per
	// spec.md's login-zeroization law.
	writer.SetLoginStatus(false)
	writer.SetUsername("")
	writer.SetPin("")
	metrics.LoginAttempts.WithLabelValues("denied").Inc()
	return drmerrors.Wrap(drmerrors.ErrAuthorization, "login denied")
}

// logout implements LOGOUT: clears the session and zeroizes the channel's
// credential fields.
func (sm *StateMachine) logout(writer *channel.DRMStateWriter) {
	sm.session = Session{}
	writer.SetLoginStatus(false)
	writer.SetUsername("")
	writer.SetPin("")
}

// Session returns a copy of the current session.
func (sm *StateMachine) Session() Session {
	return sm.session
}

// readMetadata opens the encrypted metadata envelope from the channel,
// authenticating it and caching the decoded SongMD and its checksum for
// subsequent policy/share/chunk operations on this file.
func (sm *StateMachine) readMetadata(ch *channel.Channel, writer *channel.DRMStateWriter) error {
	env := writer.Payload().AsEncMetadata()
	plaintext, err := aead.Open(aead.MetadataEnvelope, sm.device.DeviceKey[:], env.Nonce(), env.SealedWhole())
	if err != nil {
		return err
	}

	song, err := metadata.Decode(plaintext)
	if err != nil {
		return err
	}

	sm.currentSong = song
	sm.checksum = metadata.Checksum(song)
	return nil
}

// readHeader opens the encrypted file-header envelope, publishes the
// cleartext WAV header, and derives the chunk-stream geometry (total
// chunks, chunk size, remainder) from the WAV payload size it reveals —
// the same derivation the original performs before entering the streaming
// pipeline.
func (sm *StateMachine) readHeader(ch *channel.Channel, writer *channel.DRMStateWriter) error {
	env := writer.Payload().AsEncWaveHeader()
	plaintext, err := aead.Open(aead.HeaderEnvelope, sm.device.DeviceKey[:], env.Nonce(), env.SealedWhole())
	if err != nil {
		return err
	}

	var hdr [channel.WaveHeaderSz]byte
	copy(hdr[:], plaintext[:channel.WaveHeaderSz])
	writer.SetWavHeader(hdr)

	// waveHeaderStruct layout: packing1[4], file_size[4], packing2[32],
	// wav_size[4] — wav_size is the last 4 bytes of the 44-byte header.
	wavSize := binary.LittleEndian.Uint32(hdr[channel.WaveHeaderSz-4:])
	metadataSize := binary.LittleEndian.Uint32(plaintext[channel.WaveHeaderSz : channel.WaveHeaderSz+4])

	totalChunks := wavSize / channel.SongChunkSz
	remainder := wavSize % channel.SongChunkSz
	if remainder != 0 {
		totalChunks++
	}

	writer.SetStreamSizing(metadataSize, totalChunks, channel.SongChunkSz, totalChunks, remainder)
	return nil
}

// Decide evaluates playback authorization for the current session against
// the currently loaded song, using device as the region/user reference.
func (sm *StateMachine) Decide() policy.Verdict {
	if sm.currentSong == nil {
		return policy.Denied
	}
	return policy.Decide(policy.Session{LoggedIn: sm.session.LoggedIn, UID: sm.session.UID}, sm.currentSong, sm.device)
}

// ChunkAAD returns the song-identity AAD every chunk in the currently
// loaded file is bound to.
func (sm *StateMachine) ChunkAAD() []byte {
	return sm.checksum[:]
}

// queryPlayer implements QUERY_PLAYER: publishes the device's own
// provisioned region and user tables, independent of any loaded song or
// logged-in session. Per original_source's query_player, this carries no
// owner field — that's QUERY_ENC_SONG's business.
func (sm *StateMachine) queryPlayer(writer *channel.DRMStateWriter) error {
	regions := sm.provisionedRegionNames()
	users := sm.provisionedUserNames()

	q := writer.Payload().AsQuery()
	q.SetCounts(uint32(len(regions)), uint32(len(users)))
	q.SetOwner("")
	for i, name := range regions {
		q.SetRegion(i, name)
	}
	for i, name := range users {
		q.SetUser(i, name)
	}
	return nil
}

// provisionedRegionNames returns the device's provisioned region names,
// ordered by region ID for a deterministic wire encoding.
func (sm *StateMachine) provisionedRegionNames() []string {
	ids := make([]uint32, 0, len(sm.device.ProvisionedRegions))
	for id, provisioned := range sm.device.ProvisionedRegions {
		if provisioned {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, sm.device.DeviceRegions[id])
	}
	return names
}

// provisionedUserNames returns the device's provisioned user names,
// ordered by UID for a deterministic wire encoding.
func (sm *StateMachine) provisionedUserNames() []string {
	ids := make([]uint32, 0, len(sm.device.ProvisionedUsers))
	for id, provisioned := range sm.device.ProvisionedUsers {
		if provisioned {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if rec, ok := sm.device.DeviceUsers[id]; ok {
			names = append(names, rec.Username)
		}
	}
	return names
}

// queryEncSong implements QUERY_ENC_SONG: publishes the currently loaded
// song's owner and its licensed-region/shared-user names, scoped to what
// the logged-in session is entitled to see.
func (sm *StateMachine) queryEncSong(ch *channel.Channel, writer *channel.DRMStateWriter) error {
	if !sm.session.LoggedIn || sm.currentSong == nil {
		writer.Payload().AsQuery().SetCounts(0, 0)
		writer.Payload().AsQuery().SetOwner("")
		return nil
	}

	song := sm.currentSong
	q := writer.Payload().AsQuery()
	q.SetCounts(uint32(song.NumRegions), uint32(song.NumUsers))
	q.SetOwner(sm.device.DeviceUsers[song.OwnerID].Username)
	for i := uint8(0); i < song.NumRegions; i++ {
		q.SetRegion(int(i), sm.device.DeviceRegions[song.ProvisionedRegions[i]])
	}
	for i := uint8(0); i < song.NumUsers; i++ {
		uid := song.ProvisionedUsers[i]
		if rec, ok := sm.device.DeviceUsers[uid]; ok {
			q.SetUser(int(i), rec.Username)
		}
	}
	return nil
}

// share implements ENC_SHARE. Every rejection path sets share_rejected on
// the channel and returns nil rather than an error: spec.md treats a denied
// share as an in-band result, not a protocol failure.
func (sm *StateMachine) share(ch *channel.Channel, writer *channel.DRMStateWriter) error {
	reject := func(reason string) error {
		writer.SetShareRejected(true)
		metrics.ShareOperations.WithLabelValues(reason).Inc()
		return nil
	}

	if !sm.session.LoggedIn || sm.currentSong == nil {
		return reject("no_session")
	}
	if sm.session.UID != sm.currentSong.OwnerID {
		return reject("not_owner")
	}

	target := ch.Username()
	targetUID, ok := sm.device.UIDForUsername(target)
	if !ok {
		return reject("unknown_user")
	}
	if targetUID == sm.currentSong.OwnerID {
		return reject("is_owner")
	}
	if sm.currentSong.HasUser(targetUID) {
		return reject("already_shared")
	}
	if int(sm.currentSong.NumUsers) >= metadata.MaxUsers {
		return reject("full")
	}

	newMD, sealed, nonce, err := BuildSharedMetadata(sm.currentSong, targetUID, sm.device.DeviceKey[:])
	if err != nil {
		return err
	}

	env := writer.Payload().AsEncMetadata()
	env.SetNonce(nonce)
	env.SetSealed(sealed)

	sm.currentSong = newMD
	writer.SetShareRejected(false)
	metrics.ShareOperations.WithLabelValues("success").Inc()
	return nil
}

// BuildSharedMetadata implements the re-share rewrite: copy song, append
// newUID to ProvisionedUsers (not ProvisionedRegions — the original
// source's share_song appends to the regions table, which this design
// treats as a bug; the users-field append is authoritative here), derive a
// fresh nonce from the new plaintext's hash, and seal it with the metadata
// envelope. The song's SHA256Sum identity field travels through Clone
// untouched — it is a stored value, not something AddUser or Encode ever
// derives — so metadata.Checksum, and therefore every chunk's AAD, is
// unaffected by a share.
func BuildSharedMetadata(song *metadata.SongMD, newUID uint32, deviceKey []byte) (*metadata.SongMD, []byte, []byte, error) {
	newMD := song.Clone()
	if err := newMD.AddUser(newUID); err != nil {
		return nil, nil, nil, err
	}

	plaintext := newMD.Encode()
	nonce := aead.DeriveNonce(plaintext)
	sealed, err := aead.Seal(aead.MetadataEnvelope, deviceKey, nonce, plaintext)
	if err != nil {
		return nil, nil, nil, err
	}

	return newMD, sealed, nonce, nil
}
