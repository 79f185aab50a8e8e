package main

import (
	"log"
	"os"

	"github.com/trezcool/tathmini/apps/api/echo"
	"github.com/trezcool/tathmini/core"
	"github.com/trezcool/tathmini/core/evaluation"
	"github.com/trezcool/tathmini/core/room"
	"github.com/trezcool/tathmini/core/user"
	"github.com/trezcool/tathmini/services/email"
	"github.com/trezcool/tathmini/services/logger"
	"github.com/trezcool/tathmini/storage/database"
	"github.com/trezcool/tathmini/storage/database/sqlxrepos"
)

func main() {
	std := log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	logger := logsvc.NewRollbarLogger(std, core.Conf)
	logger.Enable(!core.Conf.Debug)

	// set up DB
	db, err := database.Open(core.Conf)
	if err != nil {
		logger.Fatal("opening database", err)
	}
	defer db.Close()
	if err = db.Ping(); err != nil {
		logger.Fatal("pinging database", err)
	}

	// set up services
	var mailSvc core.EmailService
	if core.Conf.Debug {
		mailSvc = emailsvc.NewConsoleService()
	} else {
		mailSvc = emailsvc.NewSendgridService(logger)
	}
	usrSvc := user.NewService(sqlxrepos.NewUserRepository(db), mailSvc)
	roomSvc := room.NewService(sqlxrepos.NewRoomRepository(db), usrSvc)
	evalSvc := evaluation.NewService(sqlxrepos.NewEvaluationRepository(db), roomSvc, logger)

	// start API server
	app := echoapi.NewServer(
		&echoapi.Options{
			Addr:    core.Conf.Server.Address(),
			UserSvc: usrSvc,
			RoomSvc: roomSvc,
			EvalSvc: evalSvc,
			Logger:  logger,
		},
	)
	logger.Info("starting API server on " + core.Conf.Server.Address())
	app.Start()
}
