package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"emberline/pkg/auth"
	"emberline/pkg/logger"
	"emberline/pkg/models"
	"emberline/pkg/store"
	"emberline/pkg/utils"
	"emberline/pkg/validation"
)

func (a *API) registerUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validation.ValidateRegistration(body.Name, body.Email, body.Password); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := store.GetUserByEmail(body.Email); err == nil {
		utils.JSONError(w, http.StatusConflict, "email already registered")
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(body.Password), bcrypt.DefaultCost)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "hash failed")
		return
	}
	u := models.User{
		ID:           utils.GenUserID(),
		Name:         body.Name,
		Email:        body.Email,
		PasswordHash: string(hash),
		CreatedTS:    time.Now().UTC().UnixNano(),
	}
	if err := store.SaveUser(u); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.Info("user_registered", "user", u.ID)
	_ = utils.JSONWrite(w, http.StatusCreated, u.Public())
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	u, err := store.GetUserByEmail(body.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.JSONError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(body.Password)) != nil {
		utils.JSONError(w, http.StatusUnauthorized, "invalid credentials")
		logger.Warn("login_rejected", "email", body.Email)
		return
	}
	tok, err := auth.MintToken(u.ID, a.TokenTTL, a.Secrets)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "token mint failed")
		return
	}
	logger.Info("login_ok", "user", u.ID)
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		models.User
		Token string `json:"token"`
	}{User: u.Public(), Token: tok})
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	u, err := store.GetUser(userID)
	if err != nil {
		utils.JSONError(w, http.StatusNotFound, "user not found")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, u.Public())
}
