package main

func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/connections", s.handleConnect).Methods("POST")
	v1.HandleFunc("/connections", s.handleDisconnect).Methods("DELETE")
	v1.HandleFunc("/query", s.handleRunQuery).Methods("POST")
	v1.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	v1.HandleFunc("/config/reload", s.handleReloadConfig).Methods("POST")

	s.router.PathPrefix("/mcp").Handler(s.mcpServer)
}
