package medias

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hbomb79/Tempo/internal/api/util"
	"github.com/hbomb79/Tempo/internal/media"
	"github.com/labstack/echo/v4"
)

type (
	Store interface {
		GetTrack(id uuid.UUID) (*media.Track, error)
		ListTracks(filter media.ListFilter) ([]*media.Track, error)
		DeleteTrack(id uuid.UUID) error

		GetPlaylist(id uuid.UUID) (*media.Playlist, error)
		ListPlaylists(filter media.ListFilter) ([]*media.Playlist, error)
		DeletePlaylist(id uuid.UUID) error

		GetStats() (*media.Stats, error)
	}

	// listRequest is bound from the query string of the list endpoints.
	listRequest struct {
		Platform string `query:"platform" validate:"omitempty,oneof=youtube soundcloud spotify"`
		Uploader string `query:"uploader"`
		Limit    int    `query:"limit" validate:"gte=0,lte=500"`
		Offset   int    `query:"offset" validate:"gte=0"`
	}

	Controller struct {
		store    Store
		validate *validator.Validate
	}
)

func New(validate *validator.Validate, store Store) *Controller {
	return &Controller{store: store, validate: validate}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/tracks/", controller.listTracks)
	eg.GET("/tracks/:id/", controller.getTrack)
	eg.DELETE("/tracks/:id/", controller.deleteTrack)

	eg.GET("/playlists/", controller.listPlaylists)
	eg.GET("/playlists/:id/", controller.getPlaylist)
	eg.DELETE("/playlists/:id/", controller.deletePlaylist)

	eg.GET("/stats/", controller.getStats)
}

// listTracks returns the stored tracks, most recently added first. The results
// can be filtered by platform and uploader, and paginated using limit/offset.
func (controller *Controller) listTracks(ec echo.Context) error {
	filter, err := controller.bindListFilter(ec)
	if err != nil {
		return err
	}

	tracks, err := controller.store.ListTracks(*filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Error occurred while listing tracks: %v", err))
	}

	return ec.JSON(http.StatusOK, util.ApplyConversion(tracks, newTrackDto))
}

func (controller *Controller) getTrack(ec echo.Context) error {
	wrap := wrapErrorGenerator("failed to fetch track")
	trackID, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return wrap(err)
	}

	track, err := controller.store.GetTrack(trackID)
	if err != nil {
		return wrap(err)
	}

	return ec.JSON(http.StatusOK, newTrackDto(track))
}

func (controller *Controller) deleteTrack(ec echo.Context) error {
	wrap := wrapErrorGenerator("failed to delete track")
	trackID, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return wrap(err)
	}

	if err := controller.store.DeleteTrack(trackID); err != nil {
		return wrap(err)
	}

	return ec.NoContent(http.StatusOK)
}

// listPlaylists returns a list of 'playlistStubDto's, which is an uninflated
// version of 'playlistDto' (which can be obtained via getPlaylist).
func (controller *Controller) listPlaylists(ec echo.Context) error {
	filter, err := controller.bindListFilter(ec)
	if err != nil {
		return err
	}

	playlists, err := controller.store.ListPlaylists(*filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Error occurred while listing playlists: %v", err))
	}

	return ec.JSON(http.StatusOK, util.ApplyConversion(playlists, newPlaylistStubDto))
}

func (controller *Controller) getPlaylist(ec echo.Context) error {
	wrap := wrapErrorGenerator("failed to fetch playlist")
	playlistID, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return wrap(err)
	}

	playlist, err := controller.store.GetPlaylist(playlistID)
	if err != nil {
		return wrap(err)
	}

	return ec.JSON(http.StatusOK, newPlaylistDto(playlist))
}

func (controller *Controller) deletePlaylist(ec echo.Context) error {
	wrap := wrapErrorGenerator("failed to delete playlist")
	playlistID, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return wrap(err)
	}

	if err := controller.store.DeletePlaylist(playlistID); err != nil {
		return wrap(err)
	}

	return ec.NoContent(http.StatusOK)
}

// getStats returns the number of tracks, playlists and thumbnails stored.
func (controller *Controller) getStats(ec echo.Context) error {
	stats, err := controller.store.GetStats()
	if err != nil {
		return wrapErrorGenerator("failed to count stats")(err)
	}

	return ec.JSON(http.StatusOK, stats)
}

func (controller *Controller) bindListFilter(ec echo.Context) (*media.ListFilter, error) {
	var request listRequest
	if err := ec.Bind(&request); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid query: %s", err.Error()))
	}

	if err := controller.validate.Struct(request); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid query: %s", err.Error()))
	}

	filter := &media.ListFilter{Uploader: request.Uploader, Limit: request.Limit, Offset: request.Offset}
	if request.Platform != "" {
		platform, err := media.ParsePlatform(request.Platform)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		filter.Platform = &platform
	}

	return filter, nil
}

func wrapErrorGenerator(message string) func(err error) error {
	return func(err error) error {
		if errors.Is(err, media.ErrNoRowFound) {
			return echo.ErrNotFound
		}
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("%s: %v", message, err))
	}
}
