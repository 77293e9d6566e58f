package websocket

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// Handler upgrades "/ws" requests. The optional "jobs" query parameter is a
// comma separated list of job ids to watch from the start.
func (s *Server) Handler(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	clientID, _ := c.Get("client_id").(string)
	client := NewClient(conn, clientID, s.handleMessage)
	for _, id := range strings.Split(c.QueryParam("jobs"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			client.Watch(id)
		}
	}

	s.hub.Register(client)
	defer s.hub.Unregister(client)

	client.Run()

	// Wait for the client context to be done (connection closed)
	<-client.Context().Done()

	return nil
}
