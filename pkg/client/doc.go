/*
Package client provides a Go client library for the djt HTTP API.

The client wraps the JSON endpoints served by pkg/api and is used by the
djt CLI. Error responses are decoded into *APIError, which unwraps to the
matching sentinel in pkg/types so callers can branch with errors.Is.

# Usage

	c, err := client.NewClient("localhost:8080", 10*time.Second)
	if err != nil {
		return err
	}
	defer c.Close()

	job, err := c.SendStatusUpdate(ctx, &types.PipelineStatusUpdate{
		AppID: "ocr", TenantID: "t1", PatientID: "p1",
		DocumentID: "d1", RunID: "r1",
		PageNumber: &page, Status: types.StatusInProgress,
	})
	switch {
	case errors.Is(err, types.ErrStaleStatus):
		// job holds the current state
	case err != nil:
		return err
	}

# Errors

A stale update is the one error that still returns a job: the server
includes the current state in the 409 body and SendStatusUpdate hands it
back next to the error.
*/
package client
