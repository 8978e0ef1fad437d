package app

import (
	"context"
	"errors"
	"sync"

	"github.com/ardylee-mml/adto3d/internal/domain/entity"
	"github.com/ardylee-mml/adto3d/internal/domain/port"
)

// ErrBusy пользователь уже ждёт результат предыдущего фото
var ErrBusy = errors.New("previous photo is still processing")

// UserService ведёт состояние диалога пользователя бота.
// Изменения состояния сериализуются, чтение-изменение-запись не пересекаются.
type UserService struct {
	mu      sync.Mutex
	repo    port.UserRepository
	outfits entity.OutfitTable
}

// NewUserService создаёт сервис; outfits nil означает стандартную таблицу категорий
func NewUserService(repo port.UserRepository, outfits entity.OutfitTable) *UserService {
	if outfits == nil {
		outfits = entity.DefaultOutfitTable()
	}
	return &UserService{repo: repo, outfits: outfits}
}

func (s *UserService) Get(ctx context.Context, userID, chatID int64) (*entity.User, error) {
	return s.repo.Get(ctx, userID, chatID)
}

// SetState меняет только состояние, выбранная категория сохраняется
func (s *UserService) SetState(ctx context.Context, userID, chatID int64, state entity.UserState) (*entity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.repo.Get(ctx, userID, chatID); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateState(ctx, userID, state); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, userID, chatID)
}

// BeginConvert ждёт фото для обычного преобразования
func (s *UserService) BeginConvert(ctx context.Context, userID, chatID int64) (*entity.User, error) {
	return s.update(ctx, userID, chatID, func(u *entity.User) {
		u.Outfit = ""
		u.SetState(entity.StateAwaitingPhoto)
	})
}

// BeginOutfit ждёт фото аксессуара выбранной категории
func (s *UserService) BeginOutfit(ctx context.Context, userID, chatID int64, category entity.OutfitCategory) (*entity.User, error) {
	if _, err := s.outfits.Rules(category); err != nil {
		return nil, err
	}
	return s.update(ctx, userID, chatID, func(u *entity.User) { u.ChooseOutfit(category) })
}

// BeginProcessing переводит пользователя в StateProcessing, если он ещё не там.
// Возвращает состояние до перехода или ErrBusy.
func (s *UserService) BeginProcessing(ctx context.Context, userID, chatID int64) (*entity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.repo.Get(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	if user.State == entity.StateProcessing {
		return nil, ErrBusy
	}
	if err := s.repo.UpdateState(ctx, userID, entity.StateProcessing); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *UserService) Cancel(ctx context.Context, userID, chatID int64) (*entity.User, error) {
	return s.update(ctx, userID, chatID, func(u *entity.User) { u.Reset() })
}

func (s *UserService) update(ctx context.Context, userID, chatID int64, fn func(*entity.User)) (*entity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.repo.Get(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}

	fn(user)
	if err := s.repo.Save(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}
