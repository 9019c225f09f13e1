package service

import "fmt"

// 提示词模板。管线只依赖这些构造函数的输出形状（严格 JSON 的场景数组），
// 文案本身可以独立调优。

func screenplayPrompt(idea string, sceneCount int) string {
	return fmt.Sprintf(`
You are a Disney Pixar screenplay writer and cinematic video prompt engineer.

TASK: Turn the user's idea into exactly %d scenes for a Pixar-style short film.

USER IDEA: "%s"

For each scene, produce:
1. "title" — short scene title (e.g. "The Discovery")
2. "duration" — video length in seconds (6 or 8, total should be ~18-24s)
3. "action" — 1-2 sentence human-readable description of what happens
4. "videoPrompt" — EXTREMELY detailed video generation prompt for Veo 3.1. Include:
   - Camera movement (dolly in, crane shot, tracking shot, etc.)
   - Lighting (volumetric, golden hour, rim light, etc.)
   - Character action and expression (specific emotions, gestures)
   - Environment details (textures, colors, atmosphere)
   - Style: "Disney Pixar 3D animation, Toy Story/Frozen quality, soft subsurface scattering, expressive eyes"
   - DO NOT include audio/music descriptions in the video prompt
5. "audioDescription" — ambient sounds and music mood for this scene
6. "narration" — optional short narration text (1-2 sentences max, or empty)

CRITICAL RULES:
- videoPrompt must be cinematic and highly detailed (100+ words each)
- Include camera angles and movements for cinematic feel
- Ensure visual continuity between scenes (same character, coherent story)
- Each scene should flow naturally into the next

Respond ONLY with valid JSON array, no markdown, no explanation:
[
  {
    "title": "...",
    "duration": 8,
    "action": "...",
    "videoPrompt": "...",
    "audioDescription": "...",
    "narration": "..."
  }
]
`, sceneCount, idea)
}

func importScriptPrompt(scriptText string) string {
	return fmt.Sprintf(`
You are a screenplay parser. The user has provided a pre-written screenplay/script with scene descriptions and video prompts.

TASK: Extract ALL scenes from the text below and structure them into JSON.

USER SCRIPT:
"""
%s
"""

For each scene found, extract:
1. "title" — the scene title or description
2. "duration" — duration in seconds. Look for timestamps like (0:00 - 0:03) = 3 seconds. If no timestamps, default to 8.
3. "action" — short human-readable description of the scene, or empty string
4. "videoPrompt" — the detailed video generation prompt. Look for "Prompt" sections or any detailed English description of the visual scene.
5. "audioDescription" — any audio/sound descriptions mentioned, or empty string
6. "narration" — any narration text mentioned, or empty string

CRITICAL RULES:
- Extract ALL scenes, do not skip any
- Keep the original videoPrompt text exactly as written (do not modify it)
- If a scene has timestamps like (0:00 - 0:03), calculate duration = end - start in seconds
- Return scenes in order

Respond ONLY with valid JSON array:
[
  {
    "title": "...",
    "duration": 4,
    "action": "...",
    "videoPrompt": "...",
    "audioDescription": "...",
    "narration": ""
  }
]
`, scriptText)
}

// videoStyleSuffix 追加到每个分镜的 videoPrompt 末尾，统一成片观感
const videoStyleSuffix = ". Disney Pixar 3D animation style, soft smooth lighting, vibrant colors, expressive character animation, cinematic quality."

// imagePrompt 组合图片生成指令。参考图影响力（strength）越高越强调还原参考构图。
func imagePrompt(prompt, style, outfit string, hasReference bool, strength float64) string {
	outfitInstruction := ""
	if outfit != "" {
		outfitInstruction = fmt.Sprintf("\nOUTFIT REQUIREMENT: The character MUST be wearing: %q. CHANGE the original clothing from the reference image (if any) to match this new description exactly. Keep the face and body type, but replace the outfit.", outfit)
	}

	if !hasReference {
		return fmt.Sprintf(`
Generate a high-quality, photorealistic image.
Description: %s%s
Style: %s
Lighting: Professional cinematic lighting.
Quality: 8k, detailed texture.
`, prompt, outfitInstruction, style)
	}

	var strengthInstruction string
	switch {
	case strength >= 0.8:
		strengthInstruction = "STRICTLY FOLLOW the pose, composition, angle, and facial structure of the reference image. The output should look like a direct variation of the reference."
	case strength >= 0.6:
		strengthInstruction = "Maintain the character's identity and general pose. You may slightly adapt the composition to fit the new scene description."
	default:
		strengthInstruction = "Use the reference image PRIMARILY for character identity. You have CREATIVE FREEDOM to change the pose, camera angle, and composition to best fit the text description."
	}

	return fmt.Sprintf(`
INSTRUCTION: You are an expert AI photographer.
TASK: Generate a new photo using the attached reference image as a guide.

GUIDELINES:
1. IMAGE INFLUENCE (Strength %.2f): %s
2. IDENTITY PRESERVATION: Ensure the character looks like the person in the reference image (facial features, body type, age, ethnicity).
3. SCENE: Place this character in the following scenario: %q.
4. STYLE: Apply the visual style: %q.%s
5. COMPOSITION: Professional photography, high detailed, photorealistic lighting, 8k resolution.
`, strength, strengthInstruction, prompt, style, outfitInstruction)
}
