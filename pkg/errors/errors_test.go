package errors

import "testing"

func TestErrors_ErrorMethod(t *testing.T) {
	errs := []error{
		&UniquenessViolationError{Table: "users", Key: "1"},
		&UniquenessViolationError{Table: "users", Index: "email", Key: "x"},
		&WriteConflictError{Table: "users", Key: "1", Cause: "newer writer"},
		&SchemaError{Table: "users", Detail: "compound index cannot be multiEntry"},
		&SchemaError{Detail: "empty key path"},
		&CorruptMetadataError{Database: "app", Detail: "bad magic"},
		&TableNotFoundError{Name: "t1"},
		&TableAlreadyExistsError{Name: "t1"},
		&IndexNotFoundError{Table: "users", Name: "email"},
	}

	for _, e := range errs {
		if e.Error() == "" {
			t.Errorf("Error() returned empty string for %T", e)
		}
	}
}

func TestIsWriteConflict(t *testing.T) {
	wc := &WriteConflictError{Table: "users", Key: "1", Cause: "lastReader"}
	wrapped := Wrap(wc, "commit failed")

	if !IsWriteConflict(wrapped) {
		t.Fatalf("IsWriteConflict should see through Wrap()")
	}

	if IsWriteConflict(&SchemaError{Detail: "x"}) {
		t.Fatalf("IsWriteConflict should not match unrelated error types")
	}
}
