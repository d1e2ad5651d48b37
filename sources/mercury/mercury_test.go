package mercury

import (
	"strings"
	"testing"
	"time"

	gtfsrt "github.com/jamespfennell/gtfs/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"transithub.dev/transithub/model"
)

func translated(pairs ...string) *gtfsrt.TranslatedString {
	ts := &gtfsrt.TranslatedString{}
	for i := 0; i+1 < len(pairs); i += 2 {
		ts.Translation = append(ts.Translation, &gtfsrt.TranslatedString_Translation{
			Text:     proto.String(pairs[i]),
			Language: proto.String(pairs[i+1]),
		})
	}
	return ts
}

func mercuryEntity(id string) *gtfsrt.FeedEntity {
	alert := &gtfsrt.Alert{
		HeaderText: translated(
			"Delays on the 1", "en",
			"<p>Delays on the 1</p>", "en-html",
		),
		DescriptionText: translated("Expect longer waits", "en"),
		ActivePeriod: []*gtfsrt.TimeRange{
			{Start: proto.Uint64(1709290000), End: proto.Uint64(1709293600)},
			{Start: proto.Uint64(1709300000)},
			{End: proto.Uint64(1709310000)}, // no start, dropped
		},
	}
	proto.SetExtension(alert, gtfsrt.E_MercuryAlert, &gtfsrt.MercuryAlert{
		CreatedAt:           proto.Uint64(1709280000),
		UpdatedAt:           proto.Uint64(1709285000),
		AlertType:           proto.String("Delays"),
		DisplayBeforeActive: proto.Uint64(3600),
	})
	return &gtfsrt.FeedEntity{Id: proto.String(id), Alert: alert}
}

func TestProcess(t *testing.T) {
	entity := mercuryEntity("lmm:alert:42")
	selector := &gtfsrt.EntitySelector{RouteId: proto.String("MTASBWY_1")}
	proto.SetExtension(selector, gtfsrt.E_MercuryEntitySelector, &gtfsrt.MercuryEntitySelector{
		SortOrder: proto.String("MTASBWY:GTFS:priority:21"),
	})
	entity.GetAlert().InformedEntity = []*gtfsrt.EntitySelector{selector}

	p := &Processor{
		Source: model.SourceMtaSubway,
		Route: func(id string) (string, bool) {
			return strings.TrimPrefix(id, "MTASBWY_"), true
		},
	}

	recordedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	entry, err := p.Process(entity, recordedAt)
	require.NoError(t, err)
	require.NotNil(t, entry)

	alert := entry.Alert
	assert.Equal(t, "lmm:alert:42", alert.OriginalID)
	assert.Equal(t, model.SourceMtaSubway, alert.Source)
	assert.Equal(t, time.Unix(1709280000, 0).UTC(), alert.CreatedAt)
	assert.Equal(t, time.Unix(1709285000, 0).UTC(), alert.UpdatedAt)
	assert.Equal(t, recordedAt, alert.RecordedAt)
	assert.Equal(t, "Delays", alert.Data.AlertType)
	assert.Equal(t, 3600, alert.Data.DisplayBeforeActive)
	assert.True(t, alert.Data.InFeed)

	require.Len(t, entry.Translations, 3)
	assert.Equal(t, model.AlertSectionHeader, entry.Translations[0].Section)
	assert.Equal(t, model.AlertFormatPlain, entry.Translations[0].Format)
	assert.Equal(t, "en", entry.Translations[0].Language)
	assert.Equal(t, model.AlertFormatHTML, entry.Translations[1].Format)
	assert.Equal(t, "en", entry.Translations[1].Language)
	assert.Equal(t, model.AlertSectionDescription, entry.Translations[2].Section)

	require.Len(t, entry.Periods, 2)
	assert.Equal(t, time.Unix(1709290000, 0).UTC(), entry.Periods[0].StartTime)
	require.NotNil(t, entry.Periods[0].EndTime)
	assert.Equal(t, time.Unix(1709293600, 0).UTC(), *entry.Periods[0].EndTime)
	assert.Nil(t, entry.Periods[1].EndTime)

	require.Len(t, entry.Entities, 1)
	require.NotNil(t, entry.Entities[0].RouteID)
	assert.Equal(t, "1", *entry.Entities[0].RouteID)
	assert.Equal(t, 21, entry.Entities[0].SortOrder)
}

func TestProcessSkipsNonMercuryEntities(t *testing.T) {
	p := &Processor{Source: model.SourceMtaSubway}

	entry, err := p.Process(&gtfsrt.FeedEntity{Id: proto.String("1")}, time.Now())
	require.NoError(t, err)
	assert.Nil(t, entry)

	// A plain GTFS alert without the extension is noise too.
	entry, err = p.Process(&gtfsrt.FeedEntity{
		Id:    proto.String("2"),
		Alert: &gtfsrt.Alert{},
	}, time.Now())
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestProcessDropsRejectedEntities(t *testing.T) {
	entity := mercuryEntity("lmm:alert:43")
	entity.GetAlert().InformedEntity = []*gtfsrt.EntitySelector{
		{RouteId: proto.String("MTASBWY_1")},
		{StopId: proto.String("140N")},
		{},
	}

	p := &Processor{
		Source: model.SourceMtaSubway,
		Route:  func(id string) (string, bool) { return strings.TrimPrefix(id, "MTASBWY_"), true },
		Stop:   func(id string) (string, bool) { return "", false },
	}

	entry, err := p.Process(entity, time.Now().UTC())
	require.NoError(t, err)

	// The rejected stop and the empty selector vanish.
	require.Len(t, entry.Entities, 1)
	assert.Equal(t, "1", *entry.Entities[0].RouteID)
}

func TestProcessFallsBackToRecordedAt(t *testing.T) {
	alert := &gtfsrt.Alert{}
	proto.SetExtension(alert, gtfsrt.E_MercuryAlert, &gtfsrt.MercuryAlert{})
	entity := &gtfsrt.FeedEntity{Id: proto.String("lmm:alert:44"), Alert: alert}

	recordedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &Processor{Source: model.SourceMtaBus}
	entry, err := p.Process(entity, recordedAt)
	require.NoError(t, err)

	assert.Equal(t, recordedAt, entry.Alert.CreatedAt)
	assert.Equal(t, recordedAt, entry.Alert.UpdatedAt)
}
