package telegram

import (
	"fmt"

	"golang.org/x/text/language"
)

// Lang selects the reply language for a user. English is the fallback;
// Indonesian is served to users whose Telegram language matches.
type Lang int

const (
	LangEN Lang = iota
	LangID
)

var matcher = language.NewMatcher([]language.Tag{
	language.English,
	language.Indonesian,
})

// MatchLang maps a Telegram language_code onto a supported reply language.
func MatchLang(code string) Lang {
	if code == "" {
		return LangEN
	}
	tag, err := language.Parse(code)
	if err != nil {
		return LangEN
	}
	_, idx, _ := matcher.Match(tag)
	return Lang(idx)
}

func (l Lang) Welcome(freeLimit int) string {
	if l == LangID {
		return fmt.Sprintf(
			"🎨 Selamat datang di bot penghasil gambar AI!\n\n"+
				"Kamu mendapat %d generasi gratis per hari.\nSetelah itu dibutuhkan kredit.\n\n"+
				"Perintah:\n"+
				"• /generate <deskripsi> - Buat gambar\n"+
				"• /balance - Cek kredit\n"+
				"• /examples - Contoh prompt\n"+
				"• /help - Semua perintah", freeLimit)
	}
	return fmt.Sprintf(
		"🎨 Welcome to the AI Image Generator Bot!\n\n"+
			"You get %d free generations per day.\nAfter that, you'll need credits.\n\n"+
			"Commands:\n"+
			"• /generate <prompt> - Create an image\n"+
			"• /balance - Check your credits\n"+
			"• /examples - See prompt examples\n"+
			"• /help - Show all commands", freeLimit)
}

func (l Lang) Help() string {
	if l == LangID {
		return "📋 Perintah yang tersedia:\n\n" +
			"/generate <deskripsi> - Buat gambar\n" +
			"/balance - Cek kredit & pemakaian\n" +
			"/examples - Ide prompt\n" +
			"/terms - Ketentuan layanan\n" +
			"/help - Tampilkan pesan ini"
	}
	return "📋 Available commands:\n\n" +
		"/generate <prompt> - Generate an image\n" +
		"/balance - Check credits & usage\n" +
		"/examples - Prompt ideas\n" +
		"/terms - Terms of service\n" +
		"/help - Show this message"
}

func (l Lang) Balance(credits, freeRemaining, freeLimit int) string {
	if l == LangID {
		return fmt.Sprintf("💳 Saldo kamu:\n\nGenerasi gratis hari ini: %d/%d\nKredit: %d", freeRemaining, freeLimit, credits)
	}
	return fmt.Sprintf("💳 Your balance:\n\nFree generations today: %d/%d\nCredits: %d", freeRemaining, freeLimit, credits)
}

func (l Lang) Examples() string {
	if l == LangID {
		return "💡 Contoh prompt:\n\n" +
			"• Pantai tropis saat matahari terbenam, warna hangat, foto sinematik\n" +
			"• Kucing astronot di bulan, gaya ilustrasi digital\n" +
			"• Pasar malam di kota tua, lampu neon, suasana hujan\n\n" +
			"Tips: jelaskan pencahayaan, latar, dan gaya!"
	}
	return "💡 Prompt examples:\n\n" +
		"• A tropical beach at sunset, warm colors, cinematic photo\n" +
		"• An astronaut cat on the moon, digital illustration style\n" +
		"• A night market in an old town, neon lights, rainy mood\n\n" +
		"Tips: be descriptive about lighting, setting, and style!"
}

func (l Lang) Terms() string {
	if l == LangID {
		return "📜 Ketentuan layanan:\n\n" +
			"• Dilarang konten ilegal atau berbahaya\n" +
			"• Penyalahgunaan berakibat blokir permanen\n" +
			"• Gambar hasil generasi untuk penggunaan pribadi\n" +
			"• Kami berhak menolak layanan"
	}
	return "📜 Terms of service:\n\n" +
		"• No illegal or harmful content\n" +
		"• Abuse will result in a permanent ban\n" +
		"• Generated images are for personal use\n" +
		"• We reserve the right to refuse service"
}

func (l Lang) GenerateUsage() string {
	if l == LangID {
		return "❗ Cara pakai: /generate <deskripsi>\n\nContoh:\n/generate pantai tropis saat matahari terbenam, foto sinematik"
	}
	return "❗ Usage: /generate <description>\n\nExample:\n/generate a tropical beach at sunset, cinematic photo"
}

func (l Lang) AlreadyActive() string {
	if l == LangID {
		return "⏳ Kamu masih punya generasi yang sedang berjalan. Tunggu sampai selesai dulu ya."
	}
	return "⏳ You already have a generation in progress. Please wait for it to complete."
}

func (l Lang) ServerBusy() string {
	if l == LangID {
		return "⏳ Server sedang penuh. Coba lagi sebentar lagi."
	}
	return "⏳ Server is busy. Please try again in a moment."
}

func (l Lang) NoBalance(freeLimit int) string {
	if l == LangID {
		return fmt.Sprintf("❌ Tidak ada generasi tersisa\n\nKamu sudah memakai %d generasi gratis hari ini.\nBeli kredit untuk melanjutkan.", freeLimit)
	}
	return fmt.Sprintf("❌ No generations available\n\nYou've used your %d free generations today.\nPlease buy credits to continue.", freeLimit)
}

func (l Lang) QueuedFree(remaining int) string {
	if l == LangID {
		return fmt.Sprintf("✅ Generasi masuk antrean!\n\nMemakai generasi gratis (%d tersisa hari ini)\n\nGambar kamu siap dalam ~30-60 detik...", remaining)
	}
	return fmt.Sprintf("✅ Generation queued!\n\nUsing free generation (%d left today)\n\nYour image will be ready in ~30-60 seconds...", remaining)
}

func (l Lang) QueuedCredit(remaining int) string {
	if l == LangID {
		return fmt.Sprintf("✅ Generasi masuk antrean!\n\nMemakai 1 kredit (%d tersisa)\n\nGambar kamu siap dalam ~30-60 detik...", remaining)
	}
	return fmt.Sprintf("✅ Generation queued!\n\nUsing 1 credit (%d remaining)\n\nYour image will be ready in ~30-60 seconds...", remaining)
}

func (l Lang) Generating() string {
	if l == LangID {
		return "🎨 Sedang membuat gambar kamu...\n⏱️ Butuh ~30-60 detik"
	}
	return "🎨 Generating your image...\n⏱️ This takes ~30-60 seconds"
}

func (l Lang) Completed(prompt string) string {
	prompt = truncateRunes(prompt, 100)
	if l == LangID {
		return "✅ Selesai!\n\n" + prompt
	}
	return "✅ Complete!\n\n" + prompt
}

func (l Lang) Failed(reason string) string {
	reason = truncateRunes(reason, 300)
	if l == LangID {
		return "❌ Generasi gagal: " + reason + "\n\nSilakan coba lagi. Kredit/generasi kamu sudah dikembalikan."
	}
	return "❌ Generation failed: " + reason + "\n\nPlease try again. Your credit was refunded."
}

func (l Lang) TimedOut() string {
	if l == LangID {
		return "⌛ Generasi melebihi batas waktu. Kredit/generasi kamu sudah dikembalikan, silakan coba lagi."
	}
	return "⌛ Generation timed out. Your credit was refunded, please try again."
}

// truncateRunes caps s at n characters, never splitting a multi-byte rune.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func (l Lang) Unknown() string {
	if l == LangID {
		return "❓ Perintah tidak dikenal. Gunakan /help untuk daftar perintah."
	}
	return "❓ Unknown command. Use /help to see available commands."
}
