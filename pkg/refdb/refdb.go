// Package refdb stores DFT reference calculations and fitted parameter sets
// in SQLite.
package refdb

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/atoms"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/params"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS calculations (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	structure     TEXT NOT NULL,
	volume        REAL NOT NULL,
	config_index  INTEGER NOT NULL,
	energy        REAL NOT NULL,
	natoms        INTEGER NOT NULL,
	species       TEXT,
	cell          BLOB NOT NULL,
	pbc           INTEGER NOT NULL,
	positions     BLOB NOT NULL,
	forces        BLOB,
	created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS calculations_structure ON calculations(structure, volume);

CREATE TABLE IF NOT EXISTS fits (
	run_id        TEXT PRIMARY KEY,
	model         TEXT NOT NULL,
	params_json   TEXT NOT NULL,
	loss          REAL NOT NULL,
	converged     INTEGER NOT NULL,
	status        TEXT,
	iterations    INTEGER NOT NULL,
	created_at    TEXT NOT NULL
);
`

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("refdb: not found")

// Calculation is one stored reference calculation. Structure, Volume and
// Index are the categorical metadata used to select training sets.
type Calculation struct {
	ID        int64
	Structure string
	Volume    float64
	Index     int
	Energy    float64
	Species   []string
	Cell      [3][3]float64
	PBC       [3]bool
	Positions [][3]float64
	Forces    [][3]float64
	CreatedAt time.Time
}

// Config returns the evaluator input of c.
func (c *Calculation) Config() *atoms.Config {
	cfg := &atoms.Config{Positions: c.Positions, Cell: c.Cell, PBC: c.PBC, Species: c.Species}
	return cfg.Clone()
}

// FitRecord is a persisted fit run.
type FitRecord struct {
	RunID      string
	Model      string
	Params     params.Params
	Loss       float64
	Converged  bool
	Status     string
	Iterations int
	CreatedAt  time.Time
}

// Filter selects calculations. Zero fields do not filter.
type Filter struct {
	Structure string
	MinVolume float64
	MaxVolume float64
	Limit     int
}

// Store is a reference database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and migrates it.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert stores c and returns its id. A zero Volume is replaced by the cell
// volume and a zero Index by the number of calculations already stored for
// the structure.
func (s *Store) Insert(c *Calculation) (int64, error) {
	cfg := c.Config()
	err := cfg.Validate(nil)
	if err != nil {
		return 0, err
	}
	if c.Forces != nil && len(c.Forces) != len(c.Positions) {
		return 0, &atoms.ShapeMismatchError{What: "forces", Want: len(c.Positions), Got: len(c.Forces)}
	}

	vol := c.Volume
	if vol == 0 && cfg.Periodic() {
		vol = cfg.Volume()
	}

	species, err := json.Marshal(c.Species)
	if err != nil {
		return 0, fmt.Errorf("marshal species: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	idx := c.Index
	if idx == 0 {
		err = tx.QueryRow(`SELECT COUNT(*) FROM calculations WHERE structure = ?`, c.Structure).Scan(&idx)
		if err != nil {
			return 0, fmt.Errorf("count: %w", err)
		}
	}

	created := c.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	var forces []byte
	if c.Forces != nil {
		forces = encodeVectors(c.Forces)
	}

	res, err := tx.Exec(
		`INSERT INTO calculations (structure, volume, config_index, energy, natoms, species, cell, pbc, positions, forces, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Structure, vol, idx, c.Energy, len(c.Positions), string(species),
		encodeVectors(c.Cell[:]), encodePBC(c.PBC), encodeVectors(c.Positions), forces,
		created.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert calculation: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

const columns = `id, structure, volume, config_index, energy, natoms, species, cell, pbc, positions, forces, created_at`

// Get returns the calculation with the given id.
func (s *Store) Get(id int64) (*Calculation, error) {
	row := s.db.QueryRow(`SELECT `+columns+` FROM calculations WHERE id = ?`, id)
	c, err := scanCalculation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: calculation %d", ErrNotFound, id)
	}
	return c, err
}

// Select returns the calculations matching f ordered by id.
func (s *Store) Select(f Filter) ([]*Calculation, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Structure != "" {
		where = append(where, "structure = ?")
		args = append(args, f.Structure)
	}
	if f.MinVolume > 0 {
		where = append(where, "volume >= ?")
		args = append(args, f.MinVolume)
	}
	if f.MaxVolume > 0 {
		where = append(where, "volume <= ?")
		args = append(args, f.MaxVolume)
	}

	q := `SELECT ` + columns + ` FROM calculations`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query calculations: %w", err)
	}
	defer rows.Close()

	var out []*Calculation
	for rows.Next() {
		c, err := scanCalculation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Count returns the number of stored calculations.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM calculations`).Scan(&n)
	return n, err
}

// Structures returns the distinct structure labels.
func (s *Store) Structures() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT structure FROM calculations ORDER BY structure`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var st string
		if err := rows.Scan(&st); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// SaveFit stores a fit run. An empty RunID gets a new uuid, which is
// returned.
func (s *Store) SaveFit(r *FitRecord) (string, error) {
	if r.RunID == "" {
		r.RunID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	pj, err := json.Marshal(r.Params)
	if err != nil {
		return "", fmt.Errorf("marshal params: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO fits (run_id, model, params_json, loss, converged, status, iterations, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Model, string(pj), r.Loss, boolInt(r.Converged), r.Status, r.Iterations,
		r.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("insert fit: %w", err)
	}
	return r.RunID, nil
}

// LatestFit returns the most recent fit of model.
func (s *Store) LatestFit(model string) (*FitRecord, error) {
	var (
		r         FitRecord
		pj        string
		converged int
		status    sql.NullString
		created   string
	)

	err := s.db.QueryRow(
		`SELECT run_id, model, params_json, loss, converged, status, iterations, created_at
		 FROM fits WHERE model = ? ORDER BY rowid DESC LIMIT 1`, model,
	).Scan(&r.RunID, &r.Model, &pj, &r.Loss, &converged, &status, &r.Iterations, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: fit for %s", ErrNotFound, model)
	}
	if err != nil {
		return nil, fmt.Errorf("query fit: %w", err)
	}

	if err := json.Unmarshal([]byte(pj), &r.Params); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	r.Converged = converged != 0
	r.Status = status.String
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return &r, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCalculation(sc scanner) (*Calculation, error) {
	var (
		c                      Calculation
		natoms, pbc            int
		species                sql.NullString
		cell, positions, force []byte
		created                string
	)

	err := sc.Scan(&c.ID, &c.Structure, &c.Volume, &c.Index, &c.Energy, &natoms, &species,
		&cell, &pbc, &positions, &force, &created)
	if err != nil {
		return nil, err
	}

	cv, err := decodeVectors(cell)
	if err != nil || len(cv) != 3 {
		return nil, fmt.Errorf("calculation %d: corrupt cell", c.ID)
	}
	copy(c.Cell[:], cv)

	c.Positions, err = decodeVectors(positions)
	if err != nil || len(c.Positions) != natoms {
		return nil, fmt.Errorf("calculation %d: corrupt positions", c.ID)
	}

	if force != nil {
		c.Forces, err = decodeVectors(force)
		if err != nil || len(c.Forces) != natoms {
			return nil, fmt.Errorf("calculation %d: corrupt forces", c.ID)
		}
	}

	if species.Valid && species.String != "" {
		if err := json.Unmarshal([]byte(species.String), &c.Species); err != nil {
			return nil, fmt.Errorf("calculation %d: species: %w", c.ID, err)
		}
	}

	c.PBC = decodePBC(pbc)
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return &c, nil
}

func encodeVectors(v [][3]float64) []byte {
	buf := make([]byte, 24*len(v))
	for i, x := range v {
		for k := 0; k < 3; k++ {
			binary.LittleEndian.PutUint64(buf[24*i+8*k:], math.Float64bits(x[k]))
		}
	}
	return buf
}

func decodeVectors(b []byte) ([][3]float64, error) {
	if len(b)%24 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 24", len(b))
	}
	out := make([][3]float64, len(b)/24)
	for i := range out {
		for k := 0; k < 3; k++ {
			out[i][k] = math.Float64frombits(binary.LittleEndian.Uint64(b[24*i+8*k:]))
		}
	}
	return out, nil
}

func encodePBC(p [3]bool) int {
	var v int
	for k := 0; k < 3; k++ {
		if p[k] {
			v |= 1 << k
		}
	}
	return v
}

func decodePBC(v int) [3]bool {
	return [3]bool{v&1 != 0, v&2 != 0, v&4 != 0}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
