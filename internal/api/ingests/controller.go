package ingests

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hbomb79/Tempo/internal/api/util"
	"github.com/hbomb79/Tempo/internal/download"
	"github.com/hbomb79/Tempo/internal/extract"
	"github.com/hbomb79/Tempo/internal/ingest"
	"github.com/hbomb79/Tempo/internal/media"
	"github.com/hbomb79/Tempo/internal/source"
	"github.com/hbomb79/Tempo/internal/storage"
	"github.com/labstack/echo/v4"
)

type (
	ResolutionTypeWrapper struct{ Value ingest.ResolutionType }
	ResolveTroubleRequest struct {
		Method *ResolutionTypeWrapper `json:"method"`
	}

	CreateRequest struct {
		URL         string `json:"url" validate:"required,url"`
		Destination string `json:"destination" validate:"omitempty,oneof=local s3"`
		AudioFormat string `json:"audio_format" validate:"omitempty,oneof=mp3 m4a opus vorbis flac wav aac"`
		Fresh       bool   `json:"fresh"`
	}

	// Dto is the response used by endpoints that return
	// the items being ingested (e.g., list, get)
	Dto struct {
		Id          uuid.UUID      `json:"id"`
		URL         string         `json:"url"`
		Platform    media.Platform `json:"platform"`
		Kind        media.Kind     `json:"kind"`
		Destination string         `json:"destination"`
		AudioFormat string         `json:"audio_format,omitempty"`
		Fresh       bool           `json:"fresh"`
		State       StateDto       `json:"state"`
		Trouble     *TroubleDto    `json:"trouble"`
		Report      *ReportDto     `json:"report"`
		CreatedAt   time.Time      `json:"created_at"`
	}

	StateDto       string
	TroubleTypeDto string

	TroubleDto struct {
		Type                   TroubleTypeDto          `json:"type"`
		Message                string                  `json:"message"`
		AllowedResolutionTypes []ResolutionTypeWrapper `json:"allowed_resolution_types"`
	}

	ReportDto struct {
		Succeeded             bool               `json:"succeeded"`
		PlaylistID            *uuid.UUID         `json:"playlist_id,omitempty"`
		PlaylistTitle         string             `json:"playlist_title,omitempty"`
		TrackCount            int                `json:"track_count"`
		SavedTrackIDs         []uuid.UUID        `json:"saved_track_ids"`
		Results               []*download.Result `json:"results"`
		NormalizationFailures []string           `json:"normalization_failures"`
	}

	Service interface {
		Submit(url string, opts ingest.Options) (*ingest.IngestItem, error)
		GetAllIngests() []*ingest.IngestItem
		GetIngest(uuid.UUID) *ingest.IngestItem
		RemoveIngest(uuid.UUID) error
		DiscoverNewFiles()
		ResolveTroubledIngest(itemID uuid.UUID, method ingest.ResolutionType) error
	}

	// Controller is the struct which is responsible for defining the
	// routes for this controller. Additionally, it holds the reference to
	// the service used to submit and inspect ingests.
	Controller struct {
		service  Service
		validate *validator.Validate
	}
)

const (
	IDLE      StateDto = "IDLE"
	INGESTING StateDto = "INGESTING"
	TROUBLED  StateDto = "TROUBLED"
	COMPLETE  StateDto = "COMPLETE"

	UNSUPPORTED_URL       TroubleTypeDto = "UNSUPPORTED_URL"
	CONFIGURATION_FAILURE TroubleTypeDto = "CONFIGURATION_FAILURE"
	EXTRACTION_FAILURE    TroubleTypeDto = "EXTRACTION_FAILURE"
	NORMALIZATION_FAILURE TroubleTypeDto = "NORMALIZATION_FAILURE"
	DOWNLOAD_FAILURE      TroubleTypeDto = "DOWNLOAD_FAILURE"
	PERSISTENCE_FAILURE   TroubleTypeDto = "PERSISTENCE_FAILURE"
)

func New(validate *validator.Validate, serv Service) *Controller {
	return &Controller{service: serv, validate: validate}
}

// SetRoutes accepts the Echo group for the ingest endpoints
// and sets the routes on them.
func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.POST("/", controller.create)
	eg.GET("/", controller.list)
	eg.POST("/poll/", controller.performPoll)
	eg.GET("/:id/", controller.get)
	eg.DELETE("/:id/", controller.delete)
	eg.POST("/:id/trouble-resolution/", controller.postTroubleResolution)
}

// create submits the URL in the request body for ingestion. URLs which
// are not recognized, or which target a platform/destination that is not
// configured, are rejected without an ingest being created.
func (controller *Controller) create(ec echo.Context) error {
	var request CreateRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid body: %s", err.Error()))
	}

	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid body: %s", err.Error()))
	}

	opts := ingest.Options{AudioFormat: request.AudioFormat, Fresh: request.Fresh}
	if request.Destination != "" {
		dest, err := storage.ParseDestination(request.Destination)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		opts.Destination = dest
	}

	item, err := controller.service.Submit(request.URL, opts)
	if err != nil {
		switch {
		case errors.Is(err, source.ErrUnsupportedURL):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, storage.ErrBackendUnusable), errors.Is(err, extract.ErrExtractorUnavailable):
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("Failed to submit ingest: %s", err.Error()))
		}
	}

	return ec.JSON(http.StatusCreated, NewDto(item))
}

// list returns all the ingests - represented as DTOs - from the underlying service.
func (controller *Controller) list(ec echo.Context) error {
	return ec.JSON(http.StatusOK, util.ApplyConversion(controller.service.GetAllIngests(), NewDto))
}

// get uses the 'id' path param from the context and retrieves the ingest from the
// underlying service. If found, a DTO representing the ingest is returned
func (controller *Controller) get(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Ingest ID is not a valid UUID")
	}

	item := controller.service.GetIngest(id)
	if item == nil {
		return echo.NewHTTPError(http.StatusNotFound)
	}

	return ec.JSON(http.StatusOK, NewDto(item))
}

// delete uses the 'id' path param from the context and removes the ingest
// from the underlying service. Ingests currently being processed cannot be removed.
func (controller *Controller) delete(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Ingest ID is not a valid UUID")
	}

	if err := controller.service.RemoveIngest(id); err != nil {
		if errors.Is(err, ingest.ErrIngestInProgress) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return ec.NoContent(http.StatusOK)
}

// postTroubleResolution uses the 'id' path param from the context and retrieves the ingest
// from the underlying service. If found, then an attempt to resolve the trouble will be made.
func (controller *Controller) postTroubleResolution(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Ingest ID is not a valid UUID")
	}

	var request ResolveTroubleRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("JSON body illegal: %v", err))
	} else if request.Method == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "JSON body missing mandatory 'method' field")
	}

	if err := controller.service.ResolveTroubledIngest(id, request.Method.Value); err != nil {
		if errors.Is(err, ingest.ErrIngestNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return ec.NoContent(http.StatusOK)
}

func (controller *Controller) performPoll(ec echo.Context) error {
	controller.service.DiscoverNewFiles()

	return ec.NoContent(http.StatusOK)
}

func (wrapper *ResolutionTypeWrapper) UnmarshalJSON(data []byte) error {
	var strValue string
	if err := json.Unmarshal(data, &strValue); err != nil {
		return err
	}

	switch strValue {
	case "abort":
		wrapper.Value = ingest.ABORT
	case "retry":
		wrapper.Value = ingest.RETRY
	default:
		return fmt.Errorf("invalid enum value: %s for resolution method", strValue)
	}

	return nil
}

func (wrapper ResolutionTypeWrapper) MarshalJSON() ([]byte, error) {
	switch wrapper.Value {
	case ingest.ABORT:
		return json.Marshal("abort")
	case ingest.RETRY:
		return json.Marshal("retry")
	}

	return nil, fmt.Errorf("invalid enum value: %v for resolution method has no known marshalling", wrapper.Value)
}

// NewDto creates a Dto using the IngestItem model.
func NewDto(item *ingest.IngestItem) *Dto {
	var trbl *TroubleDto = nil
	if item.Trouble != nil {
		trbl = &TroubleDto{
			Type:                   TroubleTypeModelToDto(item.Trouble.Type()),
			Message:                item.Trouble.Error(),
			AllowedResolutionTypes: ExtractTroubleResolutionTypes(item.Trouble),
		}
	}

	return &Dto{
		Id:          item.ID,
		URL:         item.URL,
		Platform:    item.Classification.Platform,
		Kind:        item.Classification.Kind,
		Destination: string(item.Options.Destination),
		AudioFormat: item.Options.AudioFormat,
		Fresh:       item.Options.Fresh,
		State:       StateModelToDto(item.State),
		Trouble:     trbl,
		Report:      NewReportDto(item.Report),
		CreatedAt:   item.CreatedAt,
	}
}

// NewReportDto flattens the report of an ingest. Returns nil if the
// ingest has not yet produced a report.
func NewReportDto(report *ingest.Report) *ReportDto {
	if report == nil {
		return nil
	}

	dto := &ReportDto{
		Succeeded:     report.Succeeded,
		TrackCount:    len(report.Tracks),
		SavedTrackIDs:         util.TrackIDs(report.Saved),
		Results:               report.Results,
		NormalizationFailures: util.ErrorMessages(report.Failures),
	}
	if dto.Results == nil {
		dto.Results = []*download.Result{}
	}
	if report.Playlist != nil {
		dto.PlaylistID = &report.Playlist.ID
		dto.PlaylistTitle = report.Playlist.Title
	}

	return dto
}

func ExtractTroubleResolutionTypes(trouble *ingest.Trouble) []ResolutionTypeWrapper {
	modelResTypes := trouble.AllowedResolutionTypes()
	dtoResTypes := make([]ResolutionTypeWrapper, len(modelResTypes))
	for k, v := range modelResTypes {
		dtoResTypes[k] = ResolutionTypeWrapper{Value: v}
	}

	return dtoResTypes
}

func TroubleTypeModelToDto(troubleType ingest.TroubleType) TroubleTypeDto {
	switch troubleType {
	case ingest.UNSUPPORTED_URL:
		return UNSUPPORTED_URL
	case ingest.CONFIGURATION_FAILURE:
		return CONFIGURATION_FAILURE
	case ingest.EXTRACTION_FAILURE:
		return EXTRACTION_FAILURE
	case ingest.NORMALIZATION_FAILURE:
		return NORMALIZATION_FAILURE
	case ingest.DOWNLOAD_FAILURE:
		return DOWNLOAD_FAILURE
	case ingest.PERSISTENCE_FAILURE:
		return PERSISTENCE_FAILURE
	}

	panic(fmt.Sprintf("ingest trouble type %s is not recognized by API layer, DTO cannot be created. Please report this error.", troubleType))
}

func StateModelToDto(modelType ingest.IngestItemState) StateDto {
	switch modelType {
	case ingest.IDLE:
		return IDLE
	case ingest.INGESTING:
		return INGESTING
	case ingest.TROUBLED:
		return TROUBLED
	case ingest.COMPLETE:
		return COMPLETE
	}

	panic(fmt.Sprintf("ingest state %s is not recognized by API layer, DTO cannot be created. Please report this error.", modelType))
}
