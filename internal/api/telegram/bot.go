package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	app "github.com/ardylee-mml/adto3d/internal/application"
	"github.com/ardylee-mml/adto3d/internal/domain/entity"
	"github.com/ardylee-mml/adto3d/internal/domain/port"
)

const (
	msgStart = `👋 Привет! Я превращаю фотографии предметов в 3D-модели.

📸 Отправьте фото предмета на однотонном фоне, и я пришлю GLB-модель.

📋 Команды:
/convert — создать 3D-модель
/outfit <категория> — сделать аксессуар для аватара
/help — справка
/cancel — отменить текущую операцию`

	msgHelp = `ℹ️ Как пользоваться ботом:

1️⃣ Отправьте фото предмета
2️⃣ Бот найдёт контур и оценит форму
3️⃣ Вы получите описание, превью и файл модели

💡 Рекомендации:
• Разрешение не меньше 512×512
• Светлый предмет на тёмном фоне
• Формат JPEG или PNG

📋 Команды:
/convert — создать модель
/outfit <категория> — аксессуар (%s)
/cancel — отменить операцию`

	msgAwaitingPhoto   = "📸 Отправьте фото предмета."
	msgAwaitingOutfit  = "📸 Отправьте фото аксессуара. Категория: %s"
	msgChooseOutfit    = "👕 Укажите категорию: /outfit <категория>\nДоступные: %s"
	msgUnknownOutfit   = "❓ Неизвестная категория %q. Доступные: %s"
	msgCancelled       = "❌ Операция отменена. Отправьте /convert для новой модели."
	msgSendPhoto       = "📸 Пожалуйста, отправьте фото предмета."
	msgUnknownCommand  = "❓ Неизвестная команда. Используйте /help для справки."
	msgBusy            = "⏳ Предыдущее фото ещё обрабатывается, подождите."
	msgProcessing      = "⏳ Создаю 3D-модель..."
	msgProcessingError = "⚠️ Не удалось создать модель: %s"
	msgDownloadError   = "⚠️ Не удалось скачать фото. Попробуйте ещё раз."
)

// API часть Telegram Bot API, которой пользуется бот
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot представляет Telegram-бота
type Bot struct {
	api        API
	users      *app.UserService
	conversion *app.ConversionService
	files      port.FileStore
	outfits    entity.OutfitTable
	mode       entity.ConversionMode
	http       *http.Client
	logger     *zap.Logger
}

// Deps сервисы, которыми пользуется бот
type Deps struct {
	Users      *app.UserService
	Conversion *app.ConversionService
	Files      port.FileStore
	Outfits    entity.OutfitTable
	Mode       entity.ConversionMode
}

// NewBot авторизуется по токену и создаёт бота
func NewBot(token string, deps Deps, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	b := NewBotWithAPI(api, deps, logger)
	b.logger.Info("authorized on account", zap.String("username", api.Self.UserName))
	return b, nil
}

// NewBotWithAPI создаёт бота поверх готового клиента API
func NewBotWithAPI(api API, deps Deps, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Outfits == nil {
		deps.Outfits = entity.DefaultOutfitTable()
	}
	if deps.Mode == "" {
		deps.Mode = entity.ModeLocal
	}
	return &Bot{
		api:        api,
		users:      deps.Users,
		conversion: deps.Conversion,
		files:      deps.Files,
		outfits:    deps.Outfits,
		mode:       deps.Mode,
		http:       http.DefaultClient,
		logger:     logger.With(zap.String("component", "telegram")),
	}
}

// Run обрабатывает обновления до отмены ctx и ждёт начатые сообщения
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			wg.Add(1)
			go func(msg *tgbotapi.Message) {
				defer wg.Done()
				b.handleMessage(ctx, msg)
			}(update.Message)
		}
	}
}

// handleMessage обрабатывает входящее сообщение
func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	user, err := b.users.Get(ctx, msg.From.ID, msg.Chat.ID)
	if err != nil {
		b.logger.Error("failed to get user", zap.Int64("user_id", msg.From.ID), zap.Error(err))
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg, user)
		return
	}

	if fileID, ok := imageFileID(msg); ok {
		b.handlePhoto(ctx, msg, user, fileID)
		return
	}

	b.sendMessage(msg.Chat.ID, msgSendPhoto)
}

// handleCommand обрабатывает команды бота
func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, user *entity.User) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		b.setState(ctx, user, entity.StateMainMenu)
		b.sendMessage(chatID, msgStart)

	case "help":
		b.sendMessage(chatID, fmt.Sprintf(msgHelp, b.categoryList()))

	case "convert":
		if _, err := b.users.BeginConvert(ctx, user.ID, user.ChatID); err != nil {
			b.logger.Error("failed to update user", zap.Error(err))
		}
		b.sendMessage(chatID, msgAwaitingPhoto)

	case "outfit":
		category := entity.OutfitCategory(strings.ToLower(strings.TrimSpace(msg.CommandArguments())))
		if category == "" {
			b.sendMessage(chatID, fmt.Sprintf(msgChooseOutfit, b.categoryList()))
			return
		}
		if _, err := b.users.BeginOutfit(ctx, user.ID, user.ChatID, category); err != nil {
			if errors.Is(err, entity.ErrUnknownCategory) {
				b.sendMessage(chatID, fmt.Sprintf(msgUnknownOutfit, category, b.categoryList()))
				return
			}
			b.logger.Error("failed to update user", zap.Error(err))
			return
		}
		b.sendMessage(chatID, fmt.Sprintf(msgAwaitingOutfit, category))

	case "cancel":
		if _, err := b.users.Cancel(ctx, user.ID, user.ChatID); err != nil {
			b.logger.Error("failed to update user", zap.Error(err))
		}
		b.sendMessage(chatID, msgCancelled)

	default:
		b.sendMessage(chatID, msgUnknownCommand)
	}
}

// handlePhoto прогоняет фото через конвейер и отправляет результат
func (b *Bot) handlePhoto(ctx context.Context, msg *tgbotapi.Message, user *entity.User, fileID string) {
	chatID := msg.Chat.ID
	before, err := b.users.BeginProcessing(ctx, user.ID, user.ChatID)
	if errors.Is(err, app.ErrBusy) {
		b.sendMessage(chatID, msgBusy)
		return
	}
	if err != nil {
		b.logger.Error("failed to update user", zap.Error(err))
		return
	}

	outfit := before.Outfit
	defer func() {
		if _, err := b.users.Cancel(context.WithoutCancel(ctx), user.ID, user.ChatID); err != nil {
			b.logger.Error("failed to reset user", zap.Error(err))
		}
	}()

	b.sendMessage(chatID, msgProcessing)

	imageData, err := b.downloadFile(ctx, fileID)
	if err != nil {
		b.logger.Error("failed to download photo", zap.Int64("chat_id", chatID), zap.Error(err))
		b.sendMessage(chatID, msgDownloadError)
		return
	}

	stored, err := b.files.SaveUpload(ctx, "telegram_"+fileID+".jpg", imageData)
	if err != nil {
		b.logger.Error("failed to store photo", zap.Error(err))
		b.sendMessage(chatID, fmt.Sprintf(msgProcessingError, "storage error"))
		return
	}

	job, err := b.conversion.Run(ctx, app.ConversionRequest{
		Upload: stored,
		Mode:   b.mode,
		Outfit: outfit,
	})
	if err != nil {
		b.logger.Warn("conversion failed", zap.Int64("chat_id", chatID), zap.Error(err))
		b.sendMessage(chatID, fmt.Sprintf(msgProcessingError, err.Error()))
		return
	}

	b.sendResult(chatID, job)
}

// sendResult отправляет описание, превью и файл модели
func (b *Bot) sendResult(chatID int64, job *entity.Job) {
	b.sendMessage(chatID, formatResult(job))

	dir, err := b.files.OutputDir(job.Name)
	if err != nil {
		b.logger.Error("failed to resolve output dir", zap.Error(err))
		return
	}
	local := func(kind string) (string, bool) {
		url, ok := job.Outputs[kind]
		if !ok {
			return "", false
		}
		return filepath.Join(dir, path.Base(url)), true
	}

	if p, ok := local(entity.OutputThumbnail); ok {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(p))
		photo.Caption = job.Name
		b.send(photo)
	}

	model, ok := local(entity.OutputOutfit)
	if !ok {
		model, ok = local(entity.OutputGLB)
	}
	if ok {
		b.send(tgbotapi.NewDocument(chatID, tgbotapi.FilePath(model)))
	}
}

func formatResult(job *entity.Job) string {
	var sb strings.Builder
	sb.WriteString("✅ Модель готова!\n")

	if a := job.Analysis; a != nil {
		fmt.Fprintf(&sb, "\n📐 Форма: %s, %d×%d px, %s", a.Shape.Type, a.Dimensions.Width, a.Dimensions.Height, a.Shape.Symmetry)
		fmt.Fprintf(&sb, "\n📝 Промпт: %s", a.GeneratedPrompt)
		if a.Description != "" {
			fmt.Fprintf(&sb, "\n💬 %s", a.Description)
		}
	}

	if r := job.Report; r != nil {
		fmt.Fprintf(&sb, "\n\n👕 Аксессуар: %s, треугольников: %d", r.Category, r.Final.Triangles)
		if r.Valid {
			sb.WriteString("\n✔️ Ограничения категории соблюдены")
		} else {
			fmt.Fprintf(&sb, "\n⚠️ Нарушения: %s", strings.Join(r.Violations, "; "))
		}
	}
	return sb.String()
}

// imageFileID берёт самое крупное фото или картинку, присланную файлом
func imageFileID(msg *tgbotapi.Message) (string, bool) {
	if len(msg.Photo) > 0 {
		return msg.Photo[len(msg.Photo)-1].FileID, true
	}
	if msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/") {
		return msg.Document.FileID, true
	}
	return "", false
}

// downloadFile скачивает файл из Telegram
func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	fileURL, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	return data, nil
}

func (b *Bot) setState(ctx context.Context, user *entity.User, state entity.UserState) {
	if _, err := b.users.SetState(ctx, user.ID, user.ChatID, state); err != nil {
		b.logger.Error("failed to update user", zap.Error(err))
	}
}

func (b *Bot) categoryList() string {
	names := make([]string, 0, len(b.outfits))
	for c := range b.outfits {
		names = append(names, string(c))
	}
	slices.Sort(names)
	return strings.Join(names, ", ")
}

// sendMessage отправляет текстовое сообщение
func (b *Bot) sendMessage(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		b.logger.Error("failed to send message", zap.Error(err))
	}
}
