package httpserver

func (s *Server) setupDataPlaneRoutes() {
	s.echo.GET("/health", s.dataPlaneHealth)
	s.echo.GET("/metrics", s.metricsEndpoint)

	s.echo.POST("/api/request", s.admitRequest)

	internal := s.echo.Group("/internal")
	internal.Use(s.middleware.InternalAuth.RequireInternalToken())
	internal.POST("/config/rate-limits", s.pushPolicy)
	internal.POST("/config/sync", s.triggerSync)
	internal.GET("/status", s.dataPlaneStatus)
}

func (s *Server) setupControlPlaneRoutes() {
	s.echo.GET("/health", s.controlPlaneHealth)
	s.echo.GET("/metrics", s.metricsEndpoint)

	api := s.echo.Group("/api/v1")

	policies := api.Group("/rate-limit-policies")
	policies.GET("", s.listPolicies)
	policies.POST("", s.createPolicy)
	policies.GET("/:tenantId", s.getPolicy)
	policies.PUT("/:tenantId", s.updatePolicy)
	policies.GET("/:tenantId/versions", s.listPolicyVersions)
	policies.POST("/:tenantId/rollback", s.rollbackPolicy)

	api.GET("/audit", s.getAuditLog)
}
