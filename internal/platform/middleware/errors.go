package middleware

import "github.com/labstack/echo/v4"

// errorBody is the JSON written when a request is rejected before it reaches
// a handler.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func reject(c echo.Context, status int, code, msg string) error {
	if c.Response().Committed {
		return nil
	}
	return c.JSON(status, errorBody{Error: code, Message: msg})
}
