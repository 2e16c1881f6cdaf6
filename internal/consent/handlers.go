package consent

import "github.com/gofiber/fiber/v2"

// RegisterRoutes exposes settings management. Consent checks and grants go
// through the tracker routes, which wrap them in the fail-closed contract.
func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Get("/:riderID", authMiddleware, func(c *fiber.Ctx) error {
		rec, err := svc.Get(c.Context(), c.Params("riderID"))
		if err != nil {
			return fiber.NewError(fiber.StatusNotFound, "settings not found")
		}
		return c.JSON(rec)
	})

	r.Patch("/:riderID", authMiddleware, func(c *fiber.Ctx) error {
		var patch SettingsPatch
		if err := c.BodyParser(&patch); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		rec, err := svc.Update(c.Context(), c.Params("riderID"), patch)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(rec)
	})
}
