package initialize

import (
	"fmt"
	"net/http"

	"fleet-steward/backend/app/cache"
	"fleet-steward/backend/app/controllers"
	"fleet-steward/backend/app/db"
	jwtutil "fleet-steward/backend/app/jwt"
	"fleet-steward/backend/app/metrics"
	"fleet-steward/backend/app/middleware"
	"fleet-steward/backend/app/models"
	"fleet-steward/backend/app/repo"
	"fleet-steward/backend/app/services"
	"fleet-steward/backend/config"
	"fleet-steward/backend/global"
	"fleet-steward/backend/router"

	"gorm.io/gorm"
)

type App struct {
	Cfg      *config.Config
	DB       *gorm.DB
	Hint     *cache.PendingHint
	Router   http.Handler
	Commands *services.CommandService
	Updates  *services.UpdateService
	Users    *services.UserService
	Devices  *services.DeviceService
}

func Build(configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	gdb, err := db.Connect(db.Config{
		Driver: cfg.DB.Driver, Host: cfg.DB.Host, Port: cfg.DB.Port,
		User: cfg.DB.User, Password: cfg.DB.Pass, DBName: cfg.DB.Name, Path: cfg.DB.Path,
	})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	app, err := BuildWith(cfg, gdb)
	if err != nil {
		return nil, err
	}
	if err := app.Users.EnsureAdmin(cfg.Admin.Username, cfg.Admin.Password); err != nil {
		global.Logger.Warn().Err(err).Msg("seed admin failed")
	}
	return app, nil
}

// BuildWith wires the application on an already opened database.
func BuildWith(cfg *config.Config, gdb *gorm.DB) (*App, error) {
	if err := gdb.AutoMigrate(&models.User{}, &models.Command{}, &models.AppRelease{}, &models.Device{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	var hint *cache.PendingHint
	if cfg.Redis.URL != "" {
		h, err := cache.NewPendingHint(cfg.Redis.URL)
		if err != nil {
			global.Logger.Warn().Err(err).Msg("redis unavailable, pulls always hit the database")
		} else {
			hint = h
		}
	}
	prom := metrics.NewProm("fleet_ledger")

	userSvc := services.NewUserService(repo.NewUserRepository(gdb))
	cmdSvc := services.NewCommandService(repo.NewCommandRepository(gdb), hint, prom, cfg.Ledger.MaxPull)
	updSvc := services.NewUpdateService(repo.NewReleaseRepository(gdb))
	devSvc := services.NewDeviceService(repo.NewDeviceRepository(gdb))

	signer := &jwtutil.Signer{Secret: []byte(cfg.JWT.Secret), Issuer: cfg.JWT.Issuer, ExpMin: cfg.JWT.ExpMin}
	h := router.NewRouter(router.Controllers{
		Auth:     controllers.NewAuthController(userSvc, signer),
		Commands: controllers.NewCommandController(cmdSvc, devSvc),
		Devices:  controllers.NewDeviceController(devSvc),
		Updates:  controllers.NewUpdateController(updSvc),
		Metrics:  prom.Handler(),
	}, &middleware.Auth{Signer: signer})
	h = middleware.Logging(h)

	return &App{Cfg: cfg, DB: gdb, Hint: hint, Router: h, Commands: cmdSvc, Updates: updSvc, Users: userSvc, Devices: devSvc}, nil
}
