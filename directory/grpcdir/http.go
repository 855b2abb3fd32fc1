package grpcdir

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"xdao.co/channels/directory"
)

const opFetchDeployed = "FetchDeployed"

// FetchDeployed GETs url. 404 is reported as directory.CodeNotFound.
func (c *Client) FetchDeployed(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, directory.Errorf(directory.CodeInvalid, opFetchDeployed, "%v", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, directory.Errorf(directory.CodeUnavailable, opFetchDeployed, "%v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxPage+1))
	if err != nil {
		return nil, directory.Errorf(directory.CodeUnavailable, opFetchDeployed, "read body: %v", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, &directory.Error{Code: httpCode(resp.StatusCode), Op: opFetchDeployed, Message: fmt.Sprintf("%s: %s", url, resp.Status)}
	}
	if int64(len(body)) > c.maxPage {
		return nil, directory.Errorf(directory.CodeInvalid, opFetchDeployed, "%s: page larger than %d bytes", url, c.maxPage)
	}
	return body, nil
}

func httpCode(status int) directory.Code {
	switch {
	case status == http.StatusNotFound, status == http.StatusGone:
		return directory.CodeNotFound
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return directory.CodeUnauthorized
	case status == http.StatusTooManyRequests, status == http.StatusBadGateway,
		status == http.StatusServiceUnavailable, status == http.StatusGatewayTimeout:
		return directory.CodeUnavailable
	case status >= 400 && status < 500:
		return directory.CodeInvalid
	default:
		return directory.CodeInternal
	}
}
