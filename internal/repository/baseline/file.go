package baseline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/alarm-monitor/internal/config"
	"github.com/oshokin/alarm-monitor/internal/domain/alarm"
)

const (
	fieldSavedAt  = "saved_at"
	fieldStations = "stations"
)

// Repository defines persistence operations for station baselines.
type Repository interface {
	Load(ctx context.Context) (map[string]alarm.Word, error)
	Save(ctx context.Context, baselines map[string]alarm.Word) error
}

// FileRepository persists baselines to a JSON file on disk.
// The document is a protobuf Struct encoded with protojson:
//
//	{"saved_at": "2024-05-01T12:00:00Z", "stations": {"OTY": 2048}}
type FileRepository struct {
	// path is the filesystem location of the JSON file.
	path string
	// mu protects concurrent access to the file.
	mu sync.Mutex
	// now stamps saved documents.
	now func() time.Time
}

var (
	// ErrNotFound is returned when the baseline file does not exist yet.
	ErrNotFound = errors.New("baseline not found")

	errInvalidWord     = errors.New("invalid status word")
	errMissingStations = errors.New("baseline file has no stations object")
)

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
		now:  time.Now,
	}
}

// Load reads the station baselines from disk.
func (r *FileRepository) Load(_ context.Context) (map[string]alarm.Word, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read baseline file: %w", err)
	}

	var document structpb.Struct
	if err = protojson.Unmarshal(contents, &document); err != nil {
		return nil, fmt.Errorf("decode baseline file: %w", err)
	}

	return fromStruct(&document)
}

// Save writes the station baselines to disk.
func (r *FileRepository) Save(_ context.Context, baselines map[string]alarm.Word) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	document, err := toStruct(baselines, r.now())
	if err != nil {
		return err
	}

	data, err := protojson.MarshalOptions{Multiline: true}.Marshal(document)
	if err != nil {
		return fmt.Errorf("encode baseline: %w", err)
	}

	if err = os.WriteFile(r.path, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write baseline file: %w", err)
	}

	return nil
}

// fromStruct converts the protobuf document into the station map.
func fromStruct(document *structpb.Struct) (map[string]alarm.Word, error) {
	stations := document.GetFields()[fieldStations].GetStructValue()
	if stations == nil {
		return nil, errMissingStations
	}

	result := make(map[string]alarm.Word, len(stations.GetFields()))

	for station, value := range stations.GetFields() {
		number, ok := value.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("%w for station %q: not a number", errInvalidWord, station)
		}

		word := number.NumberValue
		if word < 0 || word > math.MaxUint16 || word != math.Trunc(word) {
			return nil, fmt.Errorf("%w for station %q: %v", errInvalidWord, station, word)
		}

		result[station] = alarm.Word(word)
	}

	return result, nil
}

// toStruct converts the station map into a protobuf document.
func toStruct(baselines map[string]alarm.Word, savedAt time.Time) (*structpb.Struct, error) {
	stations := make(map[string]any, len(baselines))
	for station, word := range baselines {
		stations[station] = uint32(word)
	}

	document, err := structpb.NewStruct(map[string]any{
		fieldSavedAt:  savedAt.UTC().Format(time.RFC3339),
		fieldStations: stations,
	})
	if err != nil {
		return nil, fmt.Errorf("build baseline document: %w", err)
	}

	return document, nil
}
