package storage

// Schema is applied on Open. Everything is IF NOT EXISTS so repeated
// startups are cheap; enum creation is guarded because Postgres has no
// CREATE TYPE IF NOT EXISTS.
//
// Static data lives in the static schema and realtime data in the
// realtime schema. Realtime rows reference static rows per source, so
// a static import must land before the first realtime batch for a
// source can persist.
const schema = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE SCHEMA IF NOT EXISTS static;
CREATE SCHEMA IF NOT EXISTS realtime;

DO $$ BEGIN
    CREATE TYPE source_id AS ENUM ('mta_subway', 'mta_bus');
EXCEPTION WHEN duplicate_object THEN NULL;
END $$;

DO $$ BEGIN
    CREATE TYPE alert_section AS ENUM ('header', 'description');
EXCEPTION WHEN duplicate_object THEN NULL;
END $$;

DO $$ BEGIN
    CREATE TYPE alert_format AS ENUM ('plain', 'html');
EXCEPTION WHEN duplicate_object THEN NULL;
END $$;

CREATE TABLE IF NOT EXISTS static.source (
    id source_id PRIMARY KEY,
    updated_at timestamptz NOT NULL
);

CREATE TABLE IF NOT EXISTS static.route (
    id text NOT NULL,
    source source_id NOT NULL,
    long_name text NOT NULL DEFAULT '',
    short_name text NOT NULL DEFAULT '',
    color text NOT NULL DEFAULT '',
    geom geometry(MultiLineString, 4326),
    data jsonb NOT NULL,
    PRIMARY KEY (id, source)
);

CREATE TABLE IF NOT EXISTS static.stop (
    id text NOT NULL,
    source source_id NOT NULL,
    name text NOT NULL,
    geom geometry(Point, 4326) NOT NULL,
    data jsonb NOT NULL,
    PRIMARY KEY (id, source)
);

CREATE TABLE IF NOT EXISTS static.route_stop (
    route_id text NOT NULL,
    source source_id NOT NULL,
    stop_id text NOT NULL,
    stop_sequence integer NOT NULL,
    data jsonb NOT NULL,
    PRIMARY KEY (route_id, source, stop_id),
    FOREIGN KEY (route_id, source) REFERENCES static.route (id, source) ON DELETE CASCADE,
    FOREIGN KEY (stop_id, source) REFERENCES static.stop (id, source) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS route_stop_stop ON static.route_stop (stop_id, source);

CREATE TABLE IF NOT EXISTS static.stop_transfer (
    from_stop_id text NOT NULL,
    from_source source_id NOT NULL,
    to_stop_id text NOT NULL,
    to_source source_id NOT NULL,
    transfer_type integer NOT NULL DEFAULT 0,
    min_transfer_time integer,
    PRIMARY KEY (from_stop_id, from_source, to_stop_id, to_source),
    FOREIGN KEY (from_stop_id, from_source) REFERENCES static.stop (id, source) ON DELETE CASCADE,
    FOREIGN KEY (to_stop_id, to_source) REFERENCES static.stop (id, source) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS realtime.trip (
    id uuid PRIMARY KEY,
    source source_id NOT NULL,
    original_id text NOT NULL,
    vehicle_id text NOT NULL,
    route_id text NOT NULL,
    direction smallint,
    created_at timestamptz NOT NULL,
    updated_at timestamptz NOT NULL,
    data jsonb NOT NULL,
    FOREIGN KEY (route_id, source) REFERENCES static.route (id, source)
);

CREATE UNIQUE INDEX IF NOT EXISTS trip_natural_key
    ON realtime.trip (source, original_id, vehicle_id, created_at, COALESCE(direction, -1));

CREATE INDEX IF NOT EXISTS trip_updated_at ON realtime.trip (source, updated_at);

CREATE TABLE IF NOT EXISTS realtime.stop_time (
    trip_id uuid NOT NULL REFERENCES realtime.trip (id) ON DELETE CASCADE,
    source source_id NOT NULL,
    stop_id text NOT NULL,
    arrival timestamptz NOT NULL,
    departure timestamptz NOT NULL,
    data jsonb NOT NULL,
    PRIMARY KEY (trip_id, stop_id),
    FOREIGN KEY (stop_id, source) REFERENCES static.stop (id, source)
);

CREATE INDEX IF NOT EXISTS stop_time_arrival ON realtime.stop_time (source, arrival);

CREATE TABLE IF NOT EXISTS realtime.vehicle_position (
    vehicle_id text NOT NULL,
    source source_id NOT NULL,
    trip_id uuid REFERENCES realtime.trip (id) ON DELETE SET NULL,
    stop_id text,
    updated_at timestamptz NOT NULL,
    geom geometry(Point, 4326),
    bearing real,
    data jsonb NOT NULL,
    PRIMARY KEY (vehicle_id, source),
    FOREIGN KEY (stop_id, source) REFERENCES static.stop (id, source)
);

CREATE TABLE IF NOT EXISTS realtime.alert (
    id uuid PRIMARY KEY,
    original_id text NOT NULL,
    source source_id NOT NULL,
    created_at timestamptz NOT NULL,
    updated_at timestamptz NOT NULL,
    recorded_at timestamptz NOT NULL,
    data jsonb NOT NULL,
    UNIQUE (created_at, original_id, source)
);

CREATE TABLE IF NOT EXISTS realtime.alert_translation (
    alert_id uuid NOT NULL REFERENCES realtime.alert (id) ON DELETE CASCADE,
    section alert_section NOT NULL,
    format alert_format NOT NULL,
    language text NOT NULL,
    text text NOT NULL,
    PRIMARY KEY (alert_id, section, format, language)
);

CREATE TABLE IF NOT EXISTS realtime.active_period (
    alert_id uuid NOT NULL REFERENCES realtime.alert (id) ON DELETE CASCADE,
    start_time timestamptz NOT NULL,
    end_time timestamptz,
    PRIMARY KEY (alert_id, start_time)
);

CREATE INDEX IF NOT EXISTS active_period_window
    ON realtime.active_period (start_time, end_time);

CREATE TABLE IF NOT EXISTS realtime.affected_entity (
    alert_id uuid NOT NULL REFERENCES realtime.alert (id) ON DELETE CASCADE,
    route_id text,
    source source_id NOT NULL,
    stop_id text,
    sort_order integer NOT NULL DEFAULT 0
);

CREATE UNIQUE INDEX IF NOT EXISTS affected_entity_key
    ON realtime.affected_entity (alert_id, COALESCE(route_id, ''), source, COALESCE(stop_id, ''));
`
