package tracking

import "github.com/gofiber/fiber/v2"

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Get("/riders/active", authMiddleware, func(c *fiber.Ctx) error {
		riders, err := svc.ActiveRiders(c.Context())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(riders)
	})

	r.Get("/riders/:riderID/latest", authMiddleware, func(c *fiber.Ctx) error {
		sample, err := svc.LatestLocation(c.Context(), c.Params("riderID"))
		if err != nil {
			return fiber.NewError(fiber.StatusNotFound, "no location for rider")
		}
		return c.JSON(sample)
	})

	r.Get("/riders/:riderID/sessions", authMiddleware, func(c *fiber.Ctx) error {
		sessions, err := svc.Sessions(c.Context(), c.Params("riderID"))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(sessions)
	})
}
