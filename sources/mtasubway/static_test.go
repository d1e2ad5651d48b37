package mtasubway

import (
	"archive/zip"
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transithub.dev/transithub/model"
)

func zipBundle(t *testing.T, files map[string]string) *bundle {
	t.Helper()
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	b, err := newBundle(buf.Bytes())
	require.NoError(t, err)
	return b
}

func testStatic() *Static {
	return &Static{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestBuildRoutesFoldsExpressVariants(t *testing.T) {
	b := zipBundle(t, map[string]string{
		"routes.txt": `route_id,route_short_name,route_long_name,route_desc,route_color
6,6,Lexington Avenue Local,desc,00933C
6X,6X,Lexington Avenue Express,desc,00A65C
SS,SIR,Staten Island Railway,desc,
GS,S,42 St Shuttle,desc,808183
`,
		"trips.txt":  "route_id,service_id,trip_id,shape_id\n",
		"shapes.txt": "shape_id,shape_pt_lat,shape_pt_lon,shape_pt_sequence\n",
	})

	routes, err := testStatic().buildRoutes(b)
	require.NoError(t, err)
	require.Len(t, routes, 3)

	// The base row wins over its express variant, which only sets the
	// express flag.
	assert.Equal(t, "6", routes[0].ID)
	assert.Equal(t, "Lexington Avenue Local", routes[0].LongName)
	assert.Equal(t, "#00933C", routes[0].Color)
	assert.Equal(t, model.SubwayRouteData{Express: true}, routes[0].Data)

	// SS is the SIR's ghost id; the hardwired color fills the blank.
	assert.Equal(t, "SI", routes[1].ID)
	assert.Equal(t, "#0039A6", routes[1].Color)

	assert.Equal(t, "GS", routes[2].ID)
	assert.Equal(t, model.SubwayRouteData{Express: false}, routes[2].Data)
}

func TestBuildRoutesAttachesShapes(t *testing.T) {
	b := zipBundle(t, map[string]string{
		"routes.txt": `route_id,route_short_name,route_long_name,route_desc,route_color
1,1,Broadway Local,desc,EE352E
`,
		"trips.txt": `route_id,service_id,trip_id,shape_id
1,A,trip-1,1..S03R
`,
		"shapes.txt": `shape_id,shape_pt_lat,shape_pt_lon,shape_pt_sequence
1..S03R,40.702,-74.013,2
1..S03R,40.889,-73.898,1
`,
	})

	routes, err := testStatic().buildRoutes(b)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	require.NotEmpty(t, routes[0].Geom)

	// Points are reordered by sequence before encoding.
	want := model.EncodeWKBMultiLineString([][]model.Point{
		{{Lon: -73.898, Lat: 40.889}, {Lon: -74.013, Lat: 40.702}},
	})
	assert.Equal(t, want, routes[0].Geom)
}

func TestBuildStopsKeepsStationsOnly(t *testing.T) {
	b := zipBundle(t, map[string]string{
		"stops.txt": `stop_id,stop_name,stop_lat,stop_lon,location_type,parent_station
127,Times Sq-42 St,40.75529,-73.987495,1,
127N,Times Sq-42 St,40.75529,-73.987495,0,127
127S,Times Sq-42 St,40.75529,-73.987495,0,127
`,
	})

	stops, err := testStatic().buildStops(b)
	require.NoError(t, err)
	require.Len(t, stops, 1)
	assert.Equal(t, "127", stops[0].ID)
	assert.Equal(t, "Times Sq-42 St", stops[0].Name)
	assert.Equal(t, 40.75529, stops[0].Lat)
}

func TestBuildTransfers(t *testing.T) {
	b := zipBundle(t, map[string]string{
		"transfers.txt": `from_stop_id,to_stop_id,transfer_type,min_transfer_time
127,725,2,180
902,902,2,0
`,
	})

	transfers, err := testStatic().buildTransfers(b)
	require.NoError(t, err)
	require.Len(t, transfers, 2)
	assert.Equal(t, "127", transfers[0].FromStopID)
	assert.Equal(t, "725", transfers[0].ToStopID)
	require.NotNil(t, transfers[0].MinTransferTime)
	assert.Equal(t, 180, *transfers[0].MinTransferTime)
}

func TestParseCSVMissingFile(t *testing.T) {
	b := zipBundle(t, map[string]string{"routes.txt": "route_id\n1\n"})

	var rows []*stopCSV
	assert.Error(t, b.parseCSV("stops.txt", &rows))
}
