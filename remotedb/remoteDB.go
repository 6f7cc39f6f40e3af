package remotedb

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/RoanBrand/ScopeCapture/config"
	"github.com/RoanBrand/ScopeCapture/log"
	_ "github.com/denisenkom/go-mssqldb"
)

var connString, table string

func SetupRemoteDB(conf *config.Config) {
	c := &conf.ArchiveDatabase
	connString = fmt.Sprintf("server=%s;user id=%s;password=%s;database=%s", c.Address, c.User, c.Password, c.Database)
	table = c.Table
}

// Enabled reports whether a run archive is configured.
func Enabled() bool {
	return table != ""
}

// RunRecord is the bookkeeping row archived for one completed capture run.
type RunRecord struct {
	TimeStamp    time.Time
	ScopeAddress string
	OutputFile   string
	Events       int
	Sequences    int
	Channels     []int
	BytesWritten int64
	DurationSec  float64
}

// InsertRun archives a completed run into the remote MS SQL Server database.
// Runs not newer than the latest archived row are skipped.
func InsertRun(rec *RunRecord) error {
	conn, err := sql.Open("mssql", connString)
	if err != nil {
		return err
	}

	defer conn.Close()

	tx, err := conn.Begin()
	if err != nil {
		return err
	}

	var lastTime time.Time
	if err = tx.QueryRow(`SELECT TOP (1) DateTimeStamp FROM ` + table + ` ORDER BY ID DESC;`).Scan(&lastTime); err != nil {
		if err != sql.ErrNoRows {
			tx.Rollback()
			return err
		}
	}

	// We insert wall time (without TZ), so DB returns as UTC. Convert here,
	// preserving wall clock time.
	lastTime, err = time.ParseInLocation("2006-01-02 15:04:05", lastTime.Format("2006-01-02 15:04:05"), time.Local)
	if err != nil {
		tx.Rollback()
		return err
	}

	log.Debugf("remote DB last run timestamp: %s", lastTime)

	if !rec.TimeStamp.After(lastTime) {
		log.Println("run not newer than last archived run, skipping archive insert")
		return tx.Commit()
	}

	channels := make([]string, len(rec.Channels))
	for i, ch := range rec.Channels {
		channels[i] = strconv.Itoa(ch)
	}

	qry := strings.Builder{}
	qry.WriteString(`INSERT INTO "`)
	qry.WriteString(table)
	qry.WriteString(`" ("DateTimeStamp", "ScopeAddress", "OutputFile", "Events", "Sequences", "Channels", "BytesWritten", "DurationSeconds") VALUES ('`)
	qry.WriteString(rec.TimeStamp.Format("2006-01-02 15:04:05"))
	qry.WriteString("', '")
	qry.WriteString(rec.ScopeAddress)
	qry.WriteString("', '")
	qry.WriteString(rec.OutputFile)
	qry.WriteString("', ")
	qry.WriteString(strconv.Itoa(rec.Events))
	qry.WriteString(", ")
	qry.WriteString(strconv.Itoa(rec.Sequences))
	qry.WriteString(", '")
	qry.WriteString(strings.Join(channels, ","))
	qry.WriteString("', ")
	qry.WriteString(strconv.FormatInt(rec.BytesWritten, 10))
	qry.WriteString(", ")
	qry.WriteString(strconv.FormatFloat(rec.DurationSec, 'f', 3, 64))
	qry.WriteString(");")

	q := qry.String()
	log.Debugf("remote DB query: %s", q)

	if _, err := tx.Exec(q); err != nil {
		tx.Rollback()
		return fmt.Errorf("error executing insert statement: %s Error: %v", q, err)
	}

	if err = tx.Commit(); err != nil {
		tx.Rollback()
		return err
	}

	return nil
}
