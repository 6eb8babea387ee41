package appointment

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/advisa/consult/pkg/apperror"
)

var durationCheck = regexp.MustCompile(`duration BETWEEN (\d+) AND (\d+) AND duration % (\d+) = 0`)

// The appointment table must accept exactly the lengths the booking path
// accepts, otherwise a valid booking fails at insert time.
func TestCoreMigration_DurationCheckMatchesValidDuration(t *testing.T) {
	raw, err := os.ReadFile(filepath.Join("..", "..", "..", "migrations", "001_core.sql"))
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	m := durationCheck.FindSubmatch(raw)
	if m == nil {
		t.Fatal("appointment.duration CHECK not found in 001_core.sql")
	}
	lo, _ := strconv.Atoi(string(m[1]))
	hi, _ := strconv.Atoi(string(m[2]))
	step, _ := strconv.Atoi(string(m[3]))

	for minutes := 0; minutes <= MaxDuration+DurationStep; minutes++ {
		allowed := minutes >= lo && minutes <= hi && minutes%step == 0
		if allowed != ValidDuration(minutes) {
			t.Errorf("duration %d: table CHECK allows=%v, ValidDuration=%v", minutes, allowed, ValidDuration(minutes))
		}
	}
}

func TestMapWriteErr_CheckViolations(t *testing.T) {
	id := uuid.New()

	err := mapWriteErr(id, &pgconn.PgError{Code: checkViolation, ConstraintName: durationCheckName, Message: "violates check"})
	if !apperror.HasCode(err, apperror.CodeInvalidDuration) || !apperror.IsKind(err, apperror.KindValidation) {
		t.Errorf("duration check = %v, want invalid_duration validation error", err)
	}

	err = mapWriteErr(id, &pgconn.PgError{Code: checkViolation, ConstraintName: endAfterStartChkName})
	if !apperror.HasCode(err, apperror.CodeInvalidDate) {
		t.Errorf("end-after-start check = %v, want invalid_date", err)
	}

	err = mapWriteErr(id, &pgconn.PgError{Code: exclusionViolation})
	if !errors.Is(err, ErrSlotTaken) {
		t.Errorf("exclusion violation = %v, want ErrSlotTaken", err)
	}

	other := &pgconn.PgError{Code: checkViolation, ConstraintName: "payment_amount_check"}
	if err := mapWriteErr(id, other); err != error(other) {
		t.Errorf("unrelated check should pass through, got %v", err)
	}
}
