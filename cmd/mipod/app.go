package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mipod/audiodrm/channel"
	"github.com/mipod/audiodrm/config"
	"github.com/mipod/audiodrm/hostdriver"
	"github.com/mipod/audiodrm/pipeline"
	"github.com/mipod/audiodrm/provision"
	"github.com/mipod/audiodrm/securemodule"
)

// App wires together the channel, the secure module, and the host-side
// file driver for one CLI session.
type App struct {
	cfg     *config.Config
	secrets *provision.DeviceSecrets

	ch     *channel.Channel
	writer *channel.DRMStateWriter
	sm     *securemodule.StateMachine
}

// NewApp constructs an App ready to dispatch CLI commands.
func NewApp(cfg *config.Config, secrets *provision.DeviceSecrets) *App {
	ch, writer := channel.New()
	return &App{
		cfg:     cfg,
		secrets: secrets,
		ch:      ch,
		writer:  writer,
		sm:      securemodule.New(secrets),
	}
}

func (a *App) songPath(name string) string {
	return filepath.Join(a.cfg.Media.Dir, name)
}

// loadMetadataFromFile reads a song file off disk and drives both
// READ_HEADER and READ_METADATA to completion, in that order: READ_HEADER
// derives the chunk-stream geometry (total_chunks, chunk_size,
// chunk_remainder) that every later ring/feeder/pipeline operation on this
// file depends on, and READ_METADATA authenticates the ownership/region/
// shared-user record that policy and share decisions consult. Whether this
// lands the secure module in WAITING_METADATA/WAITING_CHUNK or back in
// STOPPED depends entirely on whether a PLAY_SONG/DIGITAL_OUT session is
// currently open — securemodule.StateMachine.Dispatch decides that, not
// this method.
func (a *App) loadMetadataFromFile(path string) error {
	sf, err := hostdriver.ReadSongFile(path)
	if err != nil {
		return err
	}

	hdrEnv := a.writer.Payload().AsEncWaveHeader()
	hdrEnv.SetNonce(sf.EncHeader[:channel.NonceSize])
	hdrEnv.SetSealed(sf.EncHeader[channel.NonceSize:])

	a.ch.PostCommand(channel.CmdReadHeader, "", "")
	if err := a.sm.Dispatch(channel.CmdReadHeader, a.ch, a.writer); err != nil {
		return err
	}

	metaEnv := a.writer.Payload().AsEncMetadata()
	metaEnv.SetNonce(sf.EncMetadata[:channel.NonceSize])
	metaEnv.SetSealed(sf.EncMetadata[channel.NonceSize:])

	a.ch.PostCommand(channel.CmdReadMetadata, "", "")
	return a.sm.Dispatch(channel.CmdReadMetadata, a.ch, a.writer)
}

func (a *App) login(username, pin string) error {
	if err := hostdriver.ValidateUsername(username); err != nil {
		return err
	}
	if err := hostdriver.ValidatePin(pin); err != nil {
		return err
	}
	a.ch.PostCommand(channel.CmdLogin, username, pin)
	return a.sm.Dispatch(channel.CmdLogin, a.ch, a.writer)
}

func (a *App) logout() error {
	a.ch.PostCommand(channel.CmdLogout, "", "")
	return a.sm.Dispatch(channel.CmdLogout, a.ch, a.writer)
}

// query implements the CLI's `query` command via QUERY_ENC_SONG: the
// loaded song's owner and the licensed-region/shared-user names the
// logged-in session is entitled to see.
func (a *App) query(songFile string) (hostdriver.QueryResult, error) {
	if err := a.loadMetadataFromFile(a.songPath(songFile)); err != nil {
		return hostdriver.QueryResult{}, err
	}
	a.ch.PostCommand(channel.CmdQueryEncSong, "", "")
	if err := a.sm.Dispatch(channel.CmdQueryEncSong, a.ch, a.writer); err != nil {
		return hostdriver.QueryResult{}, err
	}
	return hostdriver.ReadQueryResult(a.ch), nil
}

// queryPlayer implements QUERY_PLAYER: the device's own provisioned
// regions and users, with no song loaded. The original calls this once at
// player startup, before the command loop; see main.go's initApp.
func (a *App) queryPlayer() (hostdriver.PlayerInfo, error) {
	a.ch.PostCommand(channel.CmdQueryPlayer, "", "")
	if err := a.sm.Dispatch(channel.CmdQueryPlayer, a.ch, a.writer); err != nil {
		return hostdriver.PlayerInfo{}, err
	}
	return hostdriver.ReadPlayerInfo(a.ch), nil
}

func (a *App) share(songFile, targetUser string) error {
	if err := hostdriver.ValidateUsername(targetUser); err != nil {
		return err
	}
	path := a.songPath(songFile)
	if err := a.loadMetadataFromFile(path); err != nil {
		return err
	}

	a.ch.PostCommand(channel.CmdEncShare, targetUser, "")
	if err := a.sm.Dispatch(channel.CmdEncShare, a.ch, a.writer); err != nil {
		return err
	}
	if a.ch.ShareRejected() {
		return fmt.Errorf("share rejected")
	}

	env := a.ch.Payload().AsEncMetadata()
	newBlock := append(append([]byte{}, env.Nonce()...), env.SealedWhole()...)
	return hostdriver.RewriteMetadataBlock(path, newBlock)
}

// play drives PLAY_SONG (or, if digitalOut is true, DIGITAL_OUT) through
// its full command sequence: PLAY_SONG/DIGITAL_OUT opens the session
// (WAITING_FILE_HEADER), READ_HEADER and READ_METADATA authenticate the
// file (WAITING_METADATA, then WAITING_CHUNK), and repeated READ_CHUNK
// dispatches drain the double-buffered ring half by half until STOP or
// EOF. A concurrent stdin reader posts PAUSE/PLAY/RESTART/STOP as the user
// types them, per spec.md §6's playback sub-prompt; a RESTART reopens the
// file and re-runs READ_HEADER/READ_METADATA rather than ending the loop.
func (a *App) play(songFile string, digitalOut bool) error {
	path := a.songPath(songFile)
	sf, err := hostdriver.ReadSongFile(path)
	if err != nil {
		return err
	}

	var sink pipeline.AudioSink
	var digitalOutSink *pipeline.DigitalOutSink
	if digitalOut {
		digitalOutSink = pipeline.NewDigitalOutSink()
		sink = digitalOutSink
	} else {
		sink = &speakerSink{}
	}
	a.sm.SetSink(sink)

	startCmd := channel.CmdPlaySong
	if digitalOut {
		startCmd = channel.CmdDigitalOut
	}
	a.ch.PostCommand(startCmd, "", "")
	if err := a.sm.Dispatch(startCmd, a.ch, a.writer); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.runPlaybackControl(ctx)

	for {
		if err := a.loadMetadataFromFile(path); err != nil {
			return err
		}

		if err := a.runChunkLoop(ctx, sf); err != nil {
			return err
		}

		if a.ch.State() != channel.WaitingFileHeader {
			break // STOPPED: STOP was issued or the stream reached EOF
		}
		// RESTART was issued: drop back to the top and re-authenticate the
		// file from its beginning.
	}

	if digitalOutSink != nil {
		return a.writeDigitalOut(songFile, digitalOutSink.Bytes())
	}
	return nil
}

// runChunkLoop feeds sf's encrypted chunk stream into the ring and posts
// READ_CHUNK until the session leaves WAITING_CHUNK, for one
// READ_HEADER/READ_METADATA pass. It blocks on ch.Wait() while PAUSED,
// which wakes as soon as the control goroutine posts PLAY or STOP —
// Channel's interrupt signal doing the same job here that it does for the
// secure module's own command dispatch.
func (a *App) runChunkLoop(ctx context.Context, sf *hostdriver.SongFile) error {
	encChunkSize := channel.NonceSize + channel.MacSize + int(a.ch.ChunkSize())
	totalChunks := int(a.ch.TotalChunks())
	feeder := hostdriver.NewFeeder(a.ch, sf, encChunkSize, totalChunks)

	fctx, fcancel := context.WithCancel(ctx)
	defer fcancel()
	g, _ := hostdriver.RunFeeder(fctx, feeder)

	for {
		switch a.ch.State() {
		case channel.Stopped, channel.WaitingFileHeader:
			fcancel()
			_ = g.Wait()
			return nil
		case channel.Paused:
			a.ch.Wait()
			continue
		}

		a.ch.PostCommand(channel.CmdReadChunk, "", "")
		if err := a.sm.Dispatch(channel.CmdReadChunk, a.ch, a.writer); err != nil {
			fcancel()
			_ = g.Wait()
			return err
		}
	}
}

// writeDigitalOut persists a DIGITAL_OUT session's accumulated PCM to
// <digital_out_dir>/<song-file>.dout.
func (a *App) writeDigitalOut(songFile string, pcm []byte) error {
	if err := os.MkdirAll(a.cfg.Media.DigitalOutDir, 0755); err != nil {
		return err
	}
	out := filepath.Join(a.cfg.Media.DigitalOutDir, filepath.Base(songFile)+".dout")
	return os.WriteFile(out, pcm, 0600)
}

// runPlaybackControl reads pause/resume/restart/stop lines from stdin and
// posts the corresponding channel.Command, exactly as any other CLI
// command is posted — no side channel, so PAUSED/PLAYING/WAITING_FILE_HEADER
// transitions are always real drm_state moves the secure module made.
func (a *App) runPlaybackControl(ctx context.Context) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var cmd channel.Command
		switch strings.TrimSpace(scanner.Text()) {
		case "pause":
			cmd = channel.CmdPause
		case "resume", "play":
			cmd = channel.CmdPlay
		case "restart":
			cmd = channel.CmdRestart
		case "stop":
			cmd = channel.CmdStop
		default:
			continue
		}

		a.ch.PostCommand(cmd, "", "")
		_ = a.sm.Dispatch(cmd, a.ch, a.writer)
		if cmd == channel.CmdStop {
			return
		}
	}
}

// speakerSink is the default AudioSink for `play`: a stand-in for the real
// hardware DMA/FIFO path this CLI has no access to. It never reports Busy
// and discards PCM, since there is no audio device in this environment.
type speakerSink struct{}

func (speakerSink) Write(p []byte) (int, error) { return len(p), nil }
func (speakerSink) Busy() bool                  { return false }
func (speakerSink) FIFOFill() int               { return 0 }
