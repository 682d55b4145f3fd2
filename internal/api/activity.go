package api

import (
	"github.com/google/uuid"
	"github.com/hbomb79/Tempo/internal/api/ingests"
	"github.com/hbomb79/Tempo/internal/api/medias"
	"github.com/hbomb79/Tempo/internal/api/util"
	"github.com/hbomb79/Tempo/internal/http/websocket"
	"github.com/hbomb79/Tempo/internal/ingest"
	"github.com/hbomb79/Tempo/internal/storage"
	"github.com/hbomb79/Tempo/pkg/logger"
)

type (
	// IngestUpdate is broadcast whenever an ingest changes. If the ingest
	// no longer exists (e.g. it was aborted), Ingest is nil.
	IngestUpdate struct {
		IngestId uuid.UUID    `json:"ingest_id"`
		Ingest   *ingests.Dto `json:"ingest"`
	}

	TrackUpdate struct {
		TrackId uuid.UUID `json:"track_id"`
	}

	broadcaster struct {
		socketHub   *websocket.SocketHub
		ingestStore ingests.Service
		mediaStore  medias.Store
	}
)

func newBroadcaster(socketHub *websocket.SocketHub, ingestStore ingests.Service, mediaStore medias.Store) *broadcaster {
	return &broadcaster{socketHub, ingestStore, mediaStore}
}

func (hub *broadcaster) BroadcastIngestUpdate(id uuid.UUID) error {
	update := IngestUpdate{IngestId: id}
	if item := hub.ingestStore.GetIngest(id); item != nil {
		update.Ingest = ingests.NewDto(item)
	}

	hub.socketHub.Send(websocket.NewUpdate(websocket.TitleIngestUpdate, update))
	return nil
}

func (hub *broadcaster) BroadcastTrackUpdate(id uuid.UUID) error {
	if _, err := hub.mediaStore.GetTrack(id); err != nil {
		return err
	}

	hub.socketHub.Send(websocket.NewUpdate(websocket.TitleTrackUpdate, TrackUpdate{TrackId: id}))
	return nil
}

// connectionState is sent to every newly connected client, so they
// are aware of the ingests in progress.
func (hub *broadcaster) connectionState() map[string]interface{} {
	return map[string]interface{}{"ingests": util.ApplyConversion(hub.ingestStore.GetAllIngests(), ingests.NewDto)}
}

// handleSubmitCommand allows clients connected over the websocket to
// submit a URL without a separate HTTP request. The optional arguments
// mirror those accepted by the REST API.
func (hub *broadcaster) handleSubmitCommand(socket *websocket.SocketHub, msg *websocket.SocketMessage) error {
	url, err := msg.StringArgument("url")
	if err != nil {
		return err
	}
	opts, err := submitOptions(msg)
	if err != nil {
		return err
	}

	item, err := hub.ingestStore.Submit(url, opts)
	if err != nil {
		log.Emit(logger.WARNING, "Websocket submission of %q rejected: %v\n", url, err)
		return err
	}

	socket.Send(msg.Reply(websocket.TitleIngestCreated, map[string]interface{}{"ingest": ingests.NewDto(item)}))
	return nil
}

func submitOptions(msg *websocket.SocketMessage) (ingest.Options, error) {
	var opts ingest.Options
	destination, err := msg.OptionalStringArgument("destination")
	if err != nil {
		return opts, err
	}
	if destination != "" {
		if opts.Destination, err = storage.ParseDestination(destination); err != nil {
			return opts, err
		}
	}
	if opts.AudioFormat, err = msg.OptionalStringArgument("audio_format"); err != nil {
		return opts, err
	}
	if opts.Fresh, err = msg.BoolArgument("fresh"); err != nil {
		return opts, err
	}

	return opts, nil
}
